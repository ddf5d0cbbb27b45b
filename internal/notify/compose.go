package notify

import (
	"fmt"
	"strings"

	"scan-dispatcher/internal/models"
)

const (
	SubjectPrefix = "[Scan Dispatcher]"

	// HashDecodeError replaces the hash list when md5_results cannot be decoded.
	HashDecodeError = "Error decoding MD5 results, please contact the administrator."
	// NoResults replaces the results section when the agent reported nothing.
	NoResults = "No results."

	separator = "------------------------------"
)

// Email is a composed notification, ready for a Sender.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Report is everything the composer needs about a completed job.
type Report struct {
	JobID       int64
	FilesetScan string
	RuleNames   []string
	Result      models.Result
}

// Compose renders the human readable report for a finished job. It never
// fails: undecodable hash lists degrade to HashDecodeError.
func Compose(to string, r Report) Email {
	var b strings.Builder
	fmt.Fprintf(&b, "Job ID: %d\n", r.JobID)
	fmt.Fprintf(&b, "Repository: %s\n", r.FilesetScan)
	fmt.Fprintf(&b, "Rules: %s\n", strings.Join(r.RuleNames, ", "))
	fmt.Fprintf(&b, "Execution time: %s\n", r.Result.ExecutionTime)
	b.WriteString("\n")

	if r.Result.Empty() {
		b.WriteString(NoResults)
		b.WriteString("\n")
	} else {
		hashes, err := r.Result.Hashes()
		if err != nil {
			b.WriteString(HashDecodeError)
			b.WriteString("\n")
		} else if len(hashes) > 0 {
			b.WriteString(strings.Join(hashes, "\n"))
			b.WriteString("\n")
		}
		b.WriteString(separator)
		b.WriteString("\n")
		b.WriteString(r.Result.YaraResults)
		b.WriteString("\n")
	}

	return Email{
		To:      to,
		Subject: fmt.Sprintf("%s Job %d", SubjectPrefix, r.JobID),
		Body:    b.String(),
	}
}
