package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const referenceSuffixLen = 10

// lagos is fixed at UTC+1; Nigeria observes no daylight saving.
var lagos = time.FixedZone("WAT", 60*60)

// NewReference builds a payment reference: Lagos wall-clock time as
// YYYYMMDDHHmm followed by a random upper-case alphanumeric suffix.
func NewReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return now.In(lagos).Format("200601021504") + suffix[:referenceSuffixLen]
}
