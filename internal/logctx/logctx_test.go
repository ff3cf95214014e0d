package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithManagerData(context.Background(), &ManagerData{ManagerID: "m1", PoolSize: 4})
	ctx = WithSlotData(ctx, &SlotData{Index: 2, SystemID: "sys", MediaType: "video", KeyIDs: "6b31"})
	log.InfoContext(ctx, "drmsession.create.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	mgr, ok := rec["mgr"].(map[string]any)
	if !ok || mgr["id"] != "m1" || mgr["pool_size"] != float64(4) {
		t.Fatalf("unexpected mgr group: %v", rec["mgr"])
	}
	slot, ok := rec["slot"].(map[string]any)
	if !ok || slot["index"] != float64(2) || slot["key_ids"] != "6b31" {
		t.Fatalf("unexpected slot group: %v", rec["slot"])
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "pool"))
	log.InfoContext(context.Background(), "drmsession.clear")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := rec["slot"]; ok {
		t.Fatalf("slot group should be absent: %v", rec)
	}
	if rec["component"] != "pool" {
		t.Fatalf("WithAttrs must keep the wrapper: %v", rec)
	}
}
