package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pcvs-project/pcvs/internal/job"
)

// defaultMaxEntries caps how many jobs land in one result file before a new
// one is started.
const defaultMaxEntries = 100

// FileManager persists results under a run directory:
//
//	jobs-<n>.json  rotating map of job id to full record
//	maps.json      job id to the file holding it
//	views.json     per-state and per-tag job id lists
//
// Save keeps everything in memory and flushes periodically; Close flushes
// the rest. It is driven from the scheduling loop only and needs no locking.
type FileManager struct {
	dir        string
	maxEntries int

	current     map[string]job.Record
	currentName string
	fileIndex   int

	fileByJob map[string]string
	byState   map[string][]string
	byTag     map[string]map[string][]string
}

// NewFileManager creates the run directory and an empty result store in it.
func NewFileManager(dir string) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	m := &FileManager{
		dir:        dir,
		maxEntries: defaultMaxEntries,
		fileByJob:  map[string]string{},
		byState:    map[string][]string{},
		byTag:      map[string]map[string][]string{},
	}
	m.rotate()
	return m, nil
}

func (m *FileManager) rotate() {
	m.fileIndex++
	m.current = map[string]job.Record{}
	m.currentName = fmt.Sprintf("jobs-%d.json", m.fileIndex)
}

// Save records one published job. Saving the same job twice is an error:
// the scheduler publishes each job exactly once.
func (m *FileManager) Save(j *job.Job) error {
	if _, ok := m.fileByJob[j.JID]; ok {
		return errors.Errorf("job %s already published", j.FQName)
	}
	if len(m.current) >= m.maxEntries {
		if err := m.flushCurrent(); err != nil {
			return err
		}
		m.rotate()
	}
	m.current[j.JID] = j.ToJSON()
	m.fileByJob[j.JID] = m.currentName

	state := j.State.String()
	m.byState[state] = append(m.byState[state], j.JID)
	for _, tag := range j.Tags {
		if m.byTag[tag] == nil {
			m.byTag[tag] = map[string][]string{}
		}
		m.byTag[tag][state] = append(m.byTag[tag][state], j.JID)
	}
	return nil
}

func (m *FileManager) flushCurrent() error {
	if len(m.current) == 0 {
		return nil
	}
	return m.writeJSON(m.currentName, m.current)
}

func (m *FileManager) writeJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(filepath.Join(m.dir, name), data, 0o644))
}

// Close flushes the in-flight result file and writes the map and view
// indexes.
func (m *FileManager) Close() error {
	if err := m.flushCurrent(); err != nil {
		return err
	}
	if err := m.writeJSON("maps.json", m.fileByJob); err != nil {
		return err
	}
	views := map[string]interface{}{
		"status": m.byState,
		"tags":   m.byTag,
	}
	if err := m.writeJSON("views.json", views); err != nil {
		return err
	}
	log.WithField("dir", m.dir).WithField("jobs", len(m.fileByJob)).Info("results flushed")
	return nil
}

// Retrieve loads a published record back by job id, mainly for tests and
// tooling.
func (m *FileManager) Retrieve(jid string) (job.Record, error) {
	name, ok := m.fileByJob[jid]
	if !ok {
		return job.Record{}, errors.Errorf("job %s not published", jid)
	}
	if name == m.currentName {
		if record, ok := m.current[jid]; ok {
			return record, nil
		}
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return job.Record{}, errors.WithStack(err)
	}
	var records map[string]job.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return job.Record{}, errors.Wrapf(err, "corrupt result file %s", name)
	}
	record, ok := records[jid]
	if !ok {
		return job.Record{}, errors.Errorf("job %s missing from %s", jid, name)
	}
	return record, nil
}

// CountByState returns how many published jobs carry the given state name.
func (m *FileManager) CountByState(state string) int {
	return len(m.byState[strings.ToUpper(state)])
}
