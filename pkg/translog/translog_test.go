package translog

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger() (*Logger, *bytes.Buffer, *bytes.Buffer) {
	var anomalies, progress bytes.Buffer
	return &Logger{anomalies: &anomalies, progress: &progress}, &anomalies, &progress
}

func TestAnomalyWritesToAnomalyStream(t *testing.T) {
	l, anomalies, _ := newTestLogger()
	l.Anomaly("bad thing at %d", 42)
	if !strings.Contains(anomalies.String(), "bad thing at 42") {
		t.Errorf("anomaly stream = %q, missing expected text", anomalies.String())
	}
}

func TestProgressSuppressedWithoutVerbose(t *testing.T) {
	l, _, progress := newTestLogger()
	l.Progress("analyzing sample %02X", 3)
	if progress.Len() != 0 {
		t.Error("expected progress to be suppressed when verbose is off")
	}
}

func TestProgressEmittedWhenVerbose(t *testing.T) {
	l, _, progress := newTestLogger()
	l.SetVerbose(true)
	l.Progress("analyzing sample %02X", 3)
	if !strings.Contains(progress.String(), "analyzing sample 03") {
		t.Errorf("progress stream = %q, missing expected text", progress.String())
	}
}
