package executor

import (
	"strings"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// Phrases emitted by conversion backends that do not report a structured reason
var legacyPhrases = []struct {
	phrase string
	reason domain.FailureReason
}{
	{"the password is invalid", domain.ReasonInvalidPassword},
	{"contents of file stream is empty", domain.ReasonEmptyInput},
	{"the path is not of a legal form", domain.ReasonMalformedPath},
	{"value cannot be null", domain.ReasonMissingValue},
	{"cannot recognize current file type", domain.ReasonUnsupportedFileType},
	{"possible wrong file format or archive is corrupt", domain.ReasonCorruptArchive},
}

func reasonFromMessage(msg string) (domain.FailureReason, bool) {
	lower := strings.ToLower(msg)
	for _, p := range legacyPhrases {
		if strings.Contains(lower, p.phrase) {
			return p.reason, true
		}
	}
	return "", false
}
