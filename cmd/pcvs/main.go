package main

import (
	"github.com/pcvs-project/pcvs/cmd/pcvs/cmd"
	"github.com/pcvs-project/pcvs/internal/common"
)

func main() {
	common.ConfigureLogging()
	cmd.Execute()
}
