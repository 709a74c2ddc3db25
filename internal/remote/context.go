// Package remote implements the disk-backed handoff protocol used to run a
// Set in a separate process or allocation: jobs go out through input.json,
// results come back as an append-only binary record stream, and a sentinel
// file signals completion.
package remote

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pcvs-project/pcvs/internal/job"
)

// MagicToken tags every output record so a reader can detect truncation or
// corruption.
const MagicToken = "PCVS-MAGIC"

const (
	inputFile     = "input.json"
	outputFile    = "output.bin"
	completedFile = ".completed"
)

// Context is the disk-backed handoff state for one Set. Inputs are flushed
// atomically; outputs are appended record by record so a crash loses at most
// the record being written. The completion marker is the only signal that
// the output stream is complete and safe to read fully.
type Context struct {
	dir     string
	count   int
	outfile *os.File
}

// NewContext binds a context to a directory, creating it if needed.
func NewContext(dir string) (*Context, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Context{dir: dir}, nil
}

// Dir returns the context directory.
func (c *Context) Dir() string { return c.dir }

// Count returns the number of jobs loaded from the input file.
func (c *Context) Count() int { return c.count }

// SaveInput writes the minimal per-job descriptors of every job in the Set.
func (c *Context) SaveInput(jobs []*job.Job) error {
	records := make([]job.MinimalRecord, 0, len(jobs))
	for _, j := range jobs {
		records = append(records, j.ToMinimalJSON())
	}
	data, err := json.Marshal(records)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(filepath.Join(c.dir, inputFile), data, 0o644))
}

// HasInput reports whether an input file exists.
func (c *Context) HasInput() bool {
	_, err := os.Stat(filepath.Join(c.dir, inputFile))
	return err == nil
}

// HasOutput reports whether an output file exists.
func (c *Context) HasOutput() bool {
	_, err := os.Stat(filepath.Join(c.dir, outputFile))
	return err == nil
}

// LoadInput reads the input file back into fresh jobs.
func (c *Context) LoadInput() ([]*job.Job, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, inputFile))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var records []job.MinimalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.WithStack(err)
	}
	jobs := make([]*job.Job, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, job.FromMinimalRecord(record))
		c.count++
	}
	return jobs, nil
}

// SaveResult appends one result record for the job:
//
//	MAGIC:jobId:payloadLength:execTime:returnCode\n<base64 payload>\n
//
// The output file is only ever appended to.
func (c *Context) SaveResult(j *job.Job) error {
	if c.outfile == nil {
		f, err := os.OpenFile(filepath.Join(c.dir, outputFile),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.WithStack(err)
		}
		c.outfile = f
	}
	payload := j.B64Output()
	header := fmt.Sprintf("%s:%s:%d:%f:%d\n", MagicToken, j.JID, len(payload), j.Time, j.RC)
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.Write(payload)
	buf.WriteByte('\n')
	_, err := c.outfile.Write(buf.Bytes())
	return errors.WithStack(err)
}

// LoadResults reads the output stream and mutates the matching jobs with
// execution time, return code and captured output, marking each EXECUTED.
// A record whose magic token or job id does not check out fails the whole
// load: the stream cannot be trusted past a corrupt record.
func (c *Context) LoadResults(find func(jid string) *job.Job) error {
	f, err := os.Open(filepath.Join(c.dir, outputFile))
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		header := scanner.Text()
		fields := strings.SplitN(header, ":", 5)
		if len(fields) != 5 || fields[0] != MagicToken {
			return errors.Errorf("corrupt record header %q", header)
		}
		jid := fields[1]
		payloadLen, err := strconv.Atoi(fields[2])
		if err != nil {
			return errors.Wrapf(err, "record %s: bad payload length", jid)
		}
		execTime, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return errors.Wrapf(err, "record %s: bad exec time", jid)
		}
		rc, err := strconv.Atoi(fields[4])
		if err != nil {
			return errors.Wrapf(err, "record %s: bad return code", jid)
		}
		if !scanner.Scan() {
			return errors.Errorf("record %s: truncated payload", jid)
		}
		payload := scanner.Bytes()
		if len(payload) != payloadLen {
			return errors.Errorf("record %s: payload length mismatch (%d != %d)",
				jid, len(payload), payloadLen)
		}
		j := find(jid)
		if j == nil {
			return errors.Errorf("record %s: no matching job", jid)
		}
		if payloadLen > 0 {
			if err := j.SetB64Output(payload); err != nil {
				return errors.Wrapf(err, "record %s: bad payload", jid)
			}
		}
		j.RC = rc
		j.Time = execTime
		j.SaveStatus(job.Executed)
	}
	return errors.WithStack(scanner.Err())
}

// MarkCompleted flushes the output stream and drops the sentinel file.
func (c *Context) MarkCompleted() error {
	if c.outfile != nil {
		if err := c.outfile.Close(); err != nil {
			return errors.WithStack(err)
		}
		c.outfile = nil
	}
	f, err := os.Create(filepath.Join(c.dir, completedFile))
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}

// MarkNotCompleted removes the sentinel, invalidating any previous output.
func (c *Context) MarkNotCompleted() error {
	err := os.Remove(filepath.Join(c.dir, completedFile))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// Completed reports whether the sentinel file is present.
func (c *Context) Completed() bool {
	_, err := os.Stat(filepath.Join(c.dir, completedFile))
	return err == nil
}
