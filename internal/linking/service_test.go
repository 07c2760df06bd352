package linking

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/la-ruche/keyserver/internal/device"
	"github.com/la-ruche/keyserver/internal/logging"
	"github.com/la-ruche/keyserver/internal/notification"
	"github.com/la-ruche/keyserver/internal/tokens"
)

var sasPattern = regexp.MustCompile(`^\d{3}-\d{3}$`)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

type fixture struct {
	svc      *Service
	devices  *device.Service
	audit    AuditRepository
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	devices := device.NewService(device.NewMemoryRepository())
	audit := NewMemoryAuditRepository()
	notifier := &recordingNotifier{}
	svc := NewService(tokens.NewIssuer(tokens.NewRedisStore(client)), devices, audit, notifier, logging.Discard(), Options{TTL: 300 * time.Second})
	return fixture{svc: svc, devices: devices, audit: audit, notifier: notifier, redis: mr}
}

func TestInitProducesInvite(t *testing.T) {
	f := newFixture(t)

	invite, err := f.svc.Init(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !sasPattern.MatchString(invite.SAS) {
		t.Fatalf("sas %q does not match ddd-ddd", invite.SAS)
	}
	if invite.ExpiresIn != 300*time.Second {
		t.Fatalf("expected 300s expiry, got %s", invite.ExpiresIn)
	}
	if !strings.HasPrefix(invite.Token, "link_") {
		t.Fatalf("unexpected token %q", invite.Token)
	}
	if invite.QRPayload != "la-ruche://link?token="+invite.Token {
		t.Fatalf("unexpected qr payload %q", invite.QRPayload)
	}
}

func TestCompleteCreatesUnverifiedDeviceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite, err := f.svc.Init(ctx, "acc-1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	linked, err := f.svc.Complete(ctx, invite.Token)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if linked.AccountID != "acc-1" || linked.SAS != invite.SAS || linked.DeviceID == "" {
		t.Fatalf("unexpected link result %+v", linked)
	}

	devices, err := f.devices.List(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != device.LinkedName || devices[0].Verified || devices[0].Published() {
		t.Fatalf("unexpected devices %+v", devices)
	}

	if _, err := f.svc.Complete(ctx, invite.Token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken on reuse, got %v", err)
	}

	if len(f.notifier.messages) != 1 || f.notifier.messages[0].Kind != notification.KindDeviceLinked {
		t.Fatalf("expected a device-linked notification, got %+v", f.notifier.messages)
	}
	if err := f.audit.MarkCompleted(ctx, invite.Token, time.Now()); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("audit event should already be completed, got %v", err)
	}
}

func TestCompleteAfterExpiryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite, err := f.svc.Init(ctx, "acc-1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	f.redis.FastForward(301 * time.Second)

	if _, err := f.svc.Complete(ctx, invite.Token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken after expiry, got %v", err)
	}
	devices, _ := f.devices.List(ctx, "acc-1")
	if len(devices) != 0 {
		t.Fatalf("expired link must not create a device")
	}
}

func TestCompleteRejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, token := range []string{"", "link_unknown", "ws_abc"} {
		if _, err := f.svc.Complete(ctx, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("token %q: expected ErrInvalidOrExpiredToken, got %v", token, err)
		}
	}
}

func TestConcurrentCompleteLinksOneDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite, err := f.svc.Init(ctx, "acc-1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Complete(ctx, invite.Token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful completion, got %d", wins)
	}
}

func TestSASFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		sas, err := newSAS()
		if err != nil {
			t.Fatalf("sas: %v", err)
		}
		if !sasPattern.MatchString(sas) {
			t.Fatalf("sas %q does not match ddd-ddd", sas)
		}
	}
}

func TestCompleteNotificationOmitsSAS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite, err := f.svc.Init(ctx, "acc-1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	linked, err := f.svc.Complete(ctx, invite.Token)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if len(f.notifier.messages) == 0 {
		t.Fatalf("expected a notification")
	}
	for _, m := range f.notifier.messages {
		if strings.Contains(m.Body, invite.SAS) {
			t.Fatalf("notification to %s carries the SAS: %q", m.Destination, m.Body)
		}
		if !strings.Contains(m.Body, linked.DeviceID) {
			t.Fatalf("notification should name the linked device: %q", m.Body)
		}
	}
}

type failingAudit struct {
	AuditRepository
}

func (failingAudit) Record(context.Context, Event) error {
	return errors.New("audit down")
}

func TestInitAuditFailureLeavesNoToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(tokens.NewIssuer(tokens.NewRedisStore(client)), device.NewService(device.NewMemoryRepository()),
		failingAudit{}, &recordingNotifier{}, logging.Discard(), Options{TTL: 300 * time.Second})

	if _, err := svc.Init(context.Background(), "acc-1"); err == nil {
		t.Fatalf("expected init to fail when the audit row cannot be written")
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("link token still redeemable after audit failure: %v", keys)
	}
}
