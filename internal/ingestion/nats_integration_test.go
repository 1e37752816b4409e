package ingestion_test

import (
	"BondVault/internal/ingestion"
	"BondVault/internal/observability"
	"BondVault/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: JetStream command round trip (INTEGRATION_TEST=1)
// ============================================================================

func TestIntegration_CommandOverJetStream(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := ingestion.EnsureCommandStream(ctx, js); err != nil {
		t.Fatalf("EnsureCommandStream: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		t.Fatalf("EnsureOutboundStream: %v", err)
	}

	h := newDispatchHarness(t)
	cmdChan := make(chan ingestion.RawCommand, 8)
	sub := ingestion.NewNATSSubscriber(js, cmdChan, zerolog.Nop())
	if err := sub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	disp := ingestion.NewDispatcher(h.runner, cmdChan, nc, metrics, zerolog.Nop())
	go disp.Run(ctx)

	inbox := nats.NewInbox()
	replies, err := nc.SubscribeSync(inbox)
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}

	msg := nats.NewMsg("vault.cmd.deposit")
	msg.Header.Set(ingestion.ReplyHeader, inbox)
	msg.Data = depositBody(t, "it-dep-"+time.Now().Format("150405.000000"), 2_100_000)
	if _, err := js.PublishMsg(ctx, msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	got, err := replies.NextMsg(10 * time.Second)
	if err != nil {
		t.Fatalf("no reply: %v", err)
	}
	var reply ingestion.Reply
	if err := json.Unmarshal(got.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.OK || reply.Op != "deposit" {
		t.Fatalf("reply: got %+v", reply)
	}

	// The committed event goes out on the outbound stream
	out := <-h.persist
	pub := ingestion.NewOutboundPublisher(js, nil, zerolog.Nop())
	if err := pub.Publish(ctx, out); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
