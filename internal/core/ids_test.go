package core

import (
	"regexp"
	"testing"
	"time"

	"herbtrace/pkg/domain"
)

func TestDefaultIDGeneratorFormat(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^QUALITY_TEST-1709294400000-\d{4}$`)
	for i := 0; i < 50; i++ {
		id := DefaultIDGenerator(domain.KindQualityTest, now)
		if !pattern.MatchString(id) {
			t.Fatalf("id %q does not match wire format", id)
		}
	}
}
