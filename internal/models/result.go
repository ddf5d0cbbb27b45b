package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Result is the payload an agent submits after running a job.
type Result struct {
	JobID         int64         `json:"job_id"`
	ExecutionTime ExecutionTime `json:"execution_time"`
	YaraResults   string        `json:"yara_results"`
	MD5Results    string        `json:"md5_results"`
	YaraErrors    bool          `json:"yara_errors"`
}

// wireResult mirrors Result with pointers so missing fields can be told apart
// from zero values.
type wireResult struct {
	JobID         *int64         `json:"job_id"`
	ExecutionTime *ExecutionTime `json:"execution_time"`
	YaraResults   *string        `json:"yara_results"`
	MD5Results    *string        `json:"md5_results"`
	YaraErrors    *bool          `json:"yara_errors"`
}

// DecodeResult parses raw strictly: unknown fields are rejected and job_id and
// execution_time are required.
func DecodeResult(raw []byte) (Result, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Result{}, errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var w wireResult
	if err := dec.Decode(&w); err != nil {
		return Result{}, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Result{}, errors.New("trailing data after payload")
	}
	if w.JobID == nil {
		return Result{}, errors.New("job_id is required")
	}
	if *w.JobID < 0 {
		return Result{}, errors.New("job_id must be non-negative")
	}
	if w.ExecutionTime == nil {
		return Result{}, errors.New("execution_time is required")
	}

	res := Result{
		JobID:         *w.JobID,
		ExecutionTime: *w.ExecutionTime,
	}
	if w.YaraResults != nil {
		res.YaraResults = *w.YaraResults
	}
	if w.MD5Results != nil {
		res.MD5Results = *w.MD5Results
	}
	if w.YaraErrors != nil {
		res.YaraErrors = *w.YaraErrors
	}
	return res, nil
}

// Status is the terminal status the job moves to once this result is stored.
func (r Result) Status() JobStatus {
	if r.YaraErrors {
		return StatusYaraErrors
	}
	return StatusFinished
}

// Hashes decodes the serialized md5 list. An empty field decodes to no hashes.
func (r Result) Hashes() ([]string, error) {
	if len(bytes.TrimSpace([]byte(r.MD5Results))) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(r.MD5Results), &out); err != nil {
		return nil, fmt.Errorf("decode md5_results: %w", err)
	}
	return out, nil
}

// Empty reports whether the agent reported nothing at all.
func (r Result) Empty() bool {
	if len(bytes.TrimSpace([]byte(r.YaraResults))) > 0 {
		return false
	}
	hashes, err := r.Hashes()
	if err != nil {
		// something was sent, even if it does not decode
		return false
	}
	return len(hashes) == 0
}

// ExecutionTime accepts either a JSON string ("3s") or a number (seconds) and
// keeps it as display text.
type ExecutionTime string

func (e *ExecutionTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ExecutionTime(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("execution_time must be a string or a number: %w", err)
	}
	*e = ExecutionTime(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}
