package logging

import (
	"context"
	"fmt"

	cloudlogging "cloud.google.com/go/logging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// entryLogger is the part of *logging.Logger the hook needs.
type entryLogger interface {
	Log(e cloudlogging.Entry)
	Flush() error
}

// CloudHook forwards logrus entries to Google Cloud Logging as structured
// payloads. Entries are buffered by the client; Close flushes them.
type CloudHook struct {
	logger entryLogger
	close  func() error
	labels map[string]string
}

// NewCloudHook dials Cloud Logging for projectID and writes under logID.
func NewCloudHook(ctx context.Context, projectID, logID string, labels map[string]string, opts ...option.ClientOption) (*CloudHook, error) {
	client, err := cloudlogging.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud logging client: %w", err)
	}

	return &CloudHook{
		logger: client.Logger(logID),
		close:  client.Close,
		labels: labels,
	}, nil
}

func (h *CloudHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *CloudHook) Fire(entry *logrus.Entry) error {
	payload := make(map[string]interface{}, len(entry.Data)+1)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		payload[k] = v
	}
	payload["message"] = entry.Message

	h.logger.Log(cloudlogging.Entry{
		Timestamp: entry.Time,
		Severity:  severity(entry.Level),
		Payload:   payload,
		Labels:    h.labels,
	})
	return nil
}

// Close flushes buffered entries and closes the client.
func (h *CloudHook) Close() error {
	flushErr := h.logger.Flush()
	if h.close != nil {
		if err := h.close(); err != nil {
			return err
		}
	}
	return flushErr
}

func severity(level logrus.Level) cloudlogging.Severity {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return cloudlogging.Debug
	case logrus.InfoLevel:
		return cloudlogging.Info
	case logrus.WarnLevel:
		return cloudlogging.Warning
	case logrus.ErrorLevel:
		return cloudlogging.Error
	case logrus.FatalLevel:
		return cloudlogging.Critical
	case logrus.PanicLevel:
		return cloudlogging.Alert
	default:
		return cloudlogging.Default
	}
}
