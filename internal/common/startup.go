package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig reads the run profile into config. userSpecified points to an
// explicit config file and overrides the default location (a config.yaml
// under path) when non-empty.
func LoadConfig(config interface{}, path string, userSpecified string) error {
	if userSpecified != "" {
		viper.SetConfigFile(userSpecified)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(path)
	}
	if err := viper.ReadInConfig(); err != nil {
		return err
	}
	return viper.Unmarshal(config)
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ConfigureCommandLineLogging keeps CLI output plain: message only.
func ConfigureCommandLineLogging() {
	log.SetFormatter(&CommandLineFormatter{})
	log.SetOutput(os.Stdout)
}

type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(entry.Message + "\n"), nil
}

// ServeMetrics exposes the Prometheus endpoint on the given port and returns
// a shutdown func.
func ServeMetrics(port int) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
