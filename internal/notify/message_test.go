package notify

import (
	"testing"
	"time"

	"alarm-broker/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFormatAlarmMessage(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := FormatAlarmMessage("alarm-1", "Herr Meier", "Zimmer 12", "Haus Nord", createdAt, "http://x/a/tok", 2)

	assert.Equal(t,
		"NOTFALLALARM (silent)\n"+
			"Alarm-ID: alarm-1\n"+
			"Person: Herr Meier\n"+
			"Ort: Zimmer 12 / Haus Nord\n"+
			"Zeit: 2026-03-01T12:00:00Z\n"+
			"Stufe: 2\n"+
			"Quittieren: http://x/a/tok",
		msg,
	)
}

func TestFormatAlarmMessage_NoSite(t *testing.T) {
	msg := FormatAlarmMessage("alarm-1", "Herr Meier", "Zimmer 12", "", time.Now().UTC(), "http://x/a/tok", 0)
	assert.Contains(t, msg, "Ort: Zimmer 12\n")
	assert.NotContains(t, msg, " / ")
}

func TestBuildTitle(t *testing.T) {
	assert.Equal(t, "NOTFALLALARM – Herr Meier – Zimmer 12", buildTitle("Herr Meier", "Zimmer 12", 0))
	assert.Equal(t, "ESKALATION Stufe 2 – Herr Meier – Zimmer 12", buildTitle("Herr Meier", "Zimmer 12", 2))
}

func TestBuildTags(t *testing.T) {
	assert.Equal(t, []string{models.TagEmergency, models.TagSilent}, buildTags(0, models.PriorityCritical))
	assert.Equal(t, []string{models.TagEmergency}, buildTags(0, models.PriorityHigh))
	assert.Equal(t, []string{models.TagSilent}, buildTags(1, models.PriorityCritical))
	assert.Empty(t, buildTags(1, models.PriorityLow))
}

func TestPriorityForSeverity(t *testing.T) {
	assert.Equal(t, 3, priorityForSeverity(models.PriorityCritical))
	assert.Equal(t, 2, priorityForSeverity(models.PriorityHigh))
	assert.Equal(t, 2, priorityForSeverity(models.PriorityMedium))
	assert.Equal(t, 1, priorityForSeverity(models.PriorityLow))
	assert.Equal(t, 3, priorityForSeverity("unknown"))
}
