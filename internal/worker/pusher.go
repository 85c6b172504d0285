package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/switchyard-net/switchyard/internal/console"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/metrics"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/render"
	"github.com/switchyard-net/switchyard/internal/run"
	"github.com/switchyard-net/switchyard/pkg/env"
	"github.com/switchyard-net/switchyard/pkg/log"
)

const (
	BlockApplied = "applied"
	BlockFailed  = "failed"
	BlockNotRun  = "not_run"
)

// RetrySettings bounds push retries for transient console errors.
type RetrySettings struct {
	Attempts        uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RetryFromEnv reads the retry settings from the environment.
func RetryFromEnv(vars env.Environment) RetrySettings {
	return RetrySettings{
		Attempts:        vars.RetryAttempts,
		InitialInterval: vars.RetryInitialInterval,
		MaxInterval:     vars.RetryMaxInterval,
	}
}

func (r RetrySettings) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := uint64(0)
	if r.Attempts > 1 {
		retries = r.Attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// BlockResult is the recorded outcome of one command block.
type BlockResult struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Pusher applies a run device's snapshot to its switch console.
type Pusher struct {
	dialer        console.Dialer
	store         *run.Store
	events        *event.Log
	retry         RetrySettings
	promptTimeout time.Duration
}

func NewPusher(dialer console.Dialer, store *run.Store, events *event.Log, retry RetrySettings, promptTimeout time.Duration) *Pusher {
	if dialer == nil || store == nil || events == nil {
		panic("pusher requires dialer, run store and event log")
	}
	if retry.Attempts == 0 {
		retry.Attempts = 1
	}

	return &Pusher{
		dialer:        dialer,
		store:         store,
		events:        events,
		retry:         retry,
		promptTimeout: promptTimeout,
	}
}

// Push runs the device to completion and returns its outcome. A
// cancelled ctx is returned as an error so the caller can leave the
// device for recovery.
func (p *Pusher) Push(ctx context.Context, jobID uuid.UUID, rd *models.RunDevice) (run.Outcome, error) {
	start := time.Now()
	emit := p.emitter(ctx, jobID, rd)

	preview, err := render.Render(rd.Snapshot())
	if err != nil {
		emit(models.LevelError, "render failed: "+err.Error(), "", faults.CodeOf(err))
		return p.outcome(rd, start, nil, err), nil
	}
	if preview.Hash != rd.TemplateHash {
		err := faults.Fatal(faults.CodeHashMismatch,
			fmt.Sprintf("rendered hash %s does not match snapshot %s", preview.ShortHash, shortHash(rd.TemplateHash)), nil)
		emit(models.LevelError, err.Message, "", err.Code)
		return p.outcome(rd, start, nil, err), nil
	}

	profile, _ := render.Lookup(preview.Vendor)

	var (
		attempt uint64
		blocks  []BlockResult
	)

	op := func() error {
		attempt++
		if err := p.store.RecordAttempt(ctx, rd.ID, int(attempt)); err != nil {
			return backoff.Permanent(errors.Wrap(err, "record attempt"))
		}
		if attempt > 1 {
			emit(models.LevelInfo, fmt.Sprintf("attempt %d/%d", attempt, p.retry.Attempts), "", "")
		}

		var err error
		blocks, err = p.attempt(ctx, rd, preview, profile, emit)
		if err == nil {
			return nil
		}

		raw := ""
		var de *faults.DeviceError
		if errors.As(err, &de) {
			raw = de.Raw
		}
		emit(models.LevelError, fmt.Sprintf("attempt %d/%d failed: %v", attempt, p.retry.Attempts, err), raw, faults.CodeOf(err))

		if ctx.Err() != nil || !faults.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.DevicePushRetriesTotal.WithLabelValues(faults.CodeOf(err)).Inc()
		log.Warn("retrying device push",
			"run_id", rd.RunID, "device_id", rd.DeviceID, "port", rd.Port,
			"attempt", attempt, "wait", wait, "error", err)
	}

	err = backoff.RetryNotify(op, p.retry.backOff(ctx), notify)
	if ctx.Err() != nil {
		return run.Outcome{}, ctx.Err()
	}

	if err == nil {
		emit(models.LevelInfo, "configuration applied and verified", "", "")
	}
	return p.outcome(rd, start, blocks, err), nil
}

func (p *Pusher) attempt(ctx context.Context, rd *models.RunDevice, preview *render.Preview, profile render.Profile, emit emitFunc) ([]BlockResult, error) {
	results := make([]BlockResult, len(preview.Blocks))
	for i, b := range preview.Blocks {
		results[i] = BlockResult{Name: b.Name, Critical: b.Critical, Status: BlockNotRun}
	}

	rw, err := p.dialer.Dial(ctx, rd.Port)
	if err != nil {
		var de *faults.DeviceError
		if errors.As(err, &de) {
			return results, err
		}
		return results, faults.Transient(faults.CodeConnectFailed, fmt.Sprintf("open console port %d", rd.Port), err)
	}

	sess := console.NewSession(rw, p.promptTimeout)
	defer sess.Close()

	if _, err := sess.Sync(ctx); err != nil {
		return results, err
	}
	emit(models.LevelInfo, fmt.Sprintf("console port %d ready", rd.Port), "", "")

	for i, b := range preview.Blocks {
		raw, err := execAll(ctx, sess, b.Commands)
		if err == nil {
			results[i].Status = BlockApplied
			emit(models.LevelInfo, "block applied: "+b.Name, raw, "")
			continue
		}

		results[i].Status = BlockFailed
		results[i].Error = err.Error()
		if faults.CodeOf(err) != faults.CodeCLIError || b.Critical {
			return results, err
		}
		emit(models.LevelWarning, "non-critical block failed: "+b.Name, raw, faults.CodeCLIError)
	}

	if raw, err := execAll(ctx, sess, profile.Save); err != nil {
		emit(models.LevelWarning, "save failed", raw, faults.CodeOf(err))
		if faults.CodeOf(err) != faults.CodeCLIError {
			return results, err
		}
	}

	return results, p.verify(ctx, sess, rd, profile, emit)
}

func (p *Pusher) verify(ctx context.Context, sess *console.Session, rd *models.RunDevice, profile render.Profile, emit emitFunc) error {
	out, err := sess.Sync(ctx)
	if err != nil {
		return err
	}

	if got := console.PromptHostname(out); !strings.EqualFold(got, rd.Hostname) {
		return &faults.DeviceError{
			Code:    faults.CodeVerifyFailed,
			Message: fmt.Sprintf("prompt hostname %q does not match %q", got, rd.Hostname),
			Raw:     out,
		}
	}

	raw, err := execAll(ctx, sess, profile.Verify)
	if err != nil {
		return err
	}
	if !profile.Verified(raw) {
		return &faults.DeviceError{
			Code:    faults.CodeVerifyFailed,
			Message: "verify commands did not report a healthy interface",
			Raw:     raw,
		}
	}

	emit(models.LevelInfo, "verified hostname "+rd.Hostname, raw, "")
	return nil
}

func execAll(ctx context.Context, sess *console.Session, cmds []string) (string, error) {
	var raw strings.Builder
	for _, cmd := range cmds {
		out, err := sess.Exec(ctx, cmd)
		raw.WriteString(out)
		if err != nil {
			return raw.String(), err
		}
	}
	return raw.String(), nil
}

func (p *Pusher) outcome(rd *models.RunDevice, start time.Time, blocks []BlockResult, err error) run.Outcome {
	status := models.DeviceStatusSuccess
	out := run.Outcome{Status: status}
	if blocks != nil {
		out.Blocks = blocks
	}

	if err != nil {
		status = models.DeviceStatusFailed
		out.Status = status
		out.ErrorCode = faults.CodeOf(err)
		out.ErrorMessage = err.Error()
		var de *faults.DeviceError
		if errors.As(err, &de) {
			out.ErrorMessage = de.Message
		}
	}

	vendor := string(rd.Vendor)
	metrics.DevicePushesTotal.WithLabelValues(vendor, string(status)).Inc()
	metrics.DevicePushDurationSeconds.WithLabelValues(vendor, string(status)).Observe(time.Since(start).Seconds())
	return out
}

type emitFunc func(level models.EventLevel, message, raw, code string)

func (p *Pusher) emitter(ctx context.Context, jobID uuid.UUID, rd *models.RunDevice) emitFunc {
	deviceID, port := rd.DeviceID, rd.Port
	return func(level models.EventLevel, message, raw, code string) {
		// the audit trail outlives a cancelled push
		_, err := p.events.Append(context.WithoutCancel(ctx), event.Entry{
			JobID:     jobID,
			RunID:     rd.RunID,
			DeviceID:  &deviceID,
			Port:      &port,
			Level:     level,
			Message:   message,
			Raw:       raw,
			ErrorCode: code,
		})
		if err != nil {
			log.Error("failed to append device event", "run_id", rd.RunID, "device_id", deviceID, "error", err)
		}
	}
}

func shortHash(h string) string {
	if len(h) > render.ShortHashLen {
		return h[:render.ShortHashLen]
	}
	return h
}
