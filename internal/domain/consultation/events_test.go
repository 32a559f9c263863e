package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/websocket"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, Event) error {
	p.calls++
	return errors.New("broker down")
}

func TestMultiPublisher_TriesEverySink(t *testing.T) {
	failing := &failingPublisher{}
	rec := &recordingPublisher{}
	m := MultiPublisher{failing, rec}

	err := m.Publish(context.Background(), Event{Type: EventCreated})
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventCreated, rec.last().Type)
}

func nextEvent(t *testing.T, c *websocket.Client) Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return Event{}
}

func TestHubPublisher_StreamsCommittedOperations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	hub := websocket.NewHub(zerolog.Nop())
	e.svc.SetPublisher(MultiPublisher{e.events, NewHubPublisher(hub)})

	gauze := e.item(t, inventory.CategoryTriageMaterial, "gauze", "10", "1.25")
	c := e.open(t, decPtr("20"))

	watcher := websocket.NewClient([]string{TopicFor(c.ID)})
	desk := websocket.NewClient([]string{TopicAll})
	hub.Register(watcher)
	hub.Register(desk)

	li, err := e.svc.AddLineItem(ctx, c.ID, LineItemInput{Kind: KindTriageMaterial, RefID: gauze.ID, Quantity: dec("2")})
	require.NoError(t, err)

	ev := nextEvent(t, watcher)
	assert.Equal(t, EventLineItemAdded, ev.Type)
	assert.Equal(t, c.ID, ev.ConsultationID)
	require.NotNil(t, ev.LineItemID)
	assert.Equal(t, li.ID, *ev.LineItemID)
	assertDec(t, "22.50", ev.Total)

	assert.Equal(t, EventLineItemAdded, nextEvent(t, desk).Type)

	// Rejected operations publish nothing.
	_, err = e.svc.AddLineItem(ctx, c.ID, LineItemInput{Kind: KindTriageMaterial, RefID: gauze.ID, Quantity: dec("100")})
	require.Error(t, err)
	select {
	case raw := <-watcher.Send:
		t.Fatalf("unexpected event after rejection: %s", raw)
	default:
	}
}

func TestTopicFor(t *testing.T) {
	c := &Consultation{}
	assert.Equal(t, "consultations/00000000-0000-0000-0000-000000000000", TopicFor(c.ID))
}
