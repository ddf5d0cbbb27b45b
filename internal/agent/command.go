package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"scan-dispatcher/internal/models"
)

// CommandExecutor runs an external scanner for each job. The scanner gets the
// fileset as its last argument and the rules on stdin, and must print a JSON
// object with yara_results, md5_results and yara_errors.
type CommandExecutor struct {
	Path string
	Args []string
}

type commandOutput struct {
	YaraResults string `json:"yara_results"`
	MD5Results  string `json:"md5_results"`
	YaraErrors  bool   `json:"yara_errors"`
}

func (e CommandExecutor) Execute(ctx context.Context, job models.JobDetail) (models.Result, error) {
	args := append(append([]string{}, e.Args...), job.FilesetScan)
	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Stdin = strings.NewReader(job.Rules)
	cmd.Env = append(os.Environ(), "SCAN_JOB_ID="+strconv.FormatInt(job.ID, 10))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return models.Result{}, fmt.Errorf("scanner: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return models.Result{}, fmt.Errorf("decode scanner output: %w", err)
	}
	return models.Result{
		YaraResults: out.YaraResults,
		MD5Results:  out.MD5Results,
		YaraErrors:  out.YaraErrors,
	}, nil
}
