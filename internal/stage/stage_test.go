package stage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/modelrow/modelrow/internal/fetch"
	"github.com/modelrow/modelrow/internal/manifest"
	"github.com/modelrow/modelrow/internal/registry"
	"github.com/modelrow/modelrow/pkg/fbx/fbxtest"
)

func newStage(t *testing.T, visible int) *Stage {
	t.Helper()
	reg := registry.New(nil, nil, nil)
	t.Cleanup(reg.Dispose)
	st := New(reg, visible, nil)
	t.Cleanup(st.Close)
	return st
}

func dropFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDroppedModelsFillVisibleSlots(t *testing.T) {
	st := newStage(t, 3)
	dir := t.TempDir()

	for i := 0; i < 4; i++ {
		name := "hero" + strconv.Itoa(i) + ".zip"
		data := fbxtest.ModelArchive(t, []string{"Hip", "Spine"}, []string{"Idle"})
		st.ingestDrop(dropFile(t, dir, name, data))
	}

	// Three visible slots fill in order; the fourth model finds no slot.
	for i := 0; i < 3; i++ {
		if !st.Slot(i).Occupied() {
			t.Errorf("slot %d empty", i)
		}
	}
	for i := 3; i < SlotCount; i++ {
		if st.Slot(i).Occupied() {
			t.Errorf("hidden slot %d filled", i)
		}
	}
}

func TestDroppedClipAttachesToCompatibleSlots(t *testing.T) {
	st := newStage(t, 5)
	dir := t.TempDir()

	st.ingestDrop(dropFile(t, dir, "hero.zip",
		fbxtest.ModelArchive(t, []string{"Hip", "Spine"}, []string{"Idle"})))
	st.ingestDrop(dropFile(t, dir, "crab.zip",
		fbxtest.ModelArchive(t, []string{"Claw", "Shell"}, []string{"Scuttle"})))

	st.ingestDrop(dropFile(t, dir, "dances.zip",
		fbxtest.ClipArchive(t, []string{"Hip", "Spine"}, []string{"Dance"})))

	if got := len(st.Slot(0).AnimationOptions()); got != 2 {
		t.Errorf("compatible slot options = %d, want 2", got)
	}
	if got := len(st.Slot(1).AnimationOptions()); got != 1 {
		t.Errorf("incompatible slot options = %d, want 1", got)
	}
}

func TestDropIngestedOnce(t *testing.T) {
	st := newStage(t, 5)
	dir := t.TempDir()

	path := dropFile(t, dir, "dances.zip",
		fbxtest.ClipArchive(t, []string{"Hip"}, []string{"Dance"}))
	st.ingestDrop(path)
	st.ingestDrop(path) // write events fire repeatedly for one file

	if got := len(st.reg.LoadedClipPacks()); got != 1 {
		t.Errorf("registered packs = %d, want 1", got)
	}
}

func TestDropRetriesAfterBadWrite(t *testing.T) {
	st := newStage(t, 5)
	dir := t.TempDir()

	// First event catches a half-written file.
	path := dropFile(t, dir, "hero.zip", []byte("partial garbage"))
	st.ingestDrop(path)
	if st.Slot(0).Occupied() {
		t.Fatal("garbage placed a model")
	}

	// The finishing write event retries and succeeds.
	dropFile(t, dir, "hero.zip", fbxtest.ModelArchive(t, []string{"Hip"}, []string{"Idle"}))
	st.ingestDrop(path)
	if !st.Slot(0).Occupied() {
		t.Error("completed file not ingested")
	}
}

func TestTickClampsTimestep(t *testing.T) {
	st := newStage(t, 5)
	dir := t.TempDir()
	st.ingestDrop(dropFile(t, dir, "hero.zip",
		fbxtest.ModelArchive(t, []string{"Hip"}, []string{"Idle"})))

	st.Tick(10) // stall recovery must not fast-forward
	if got := st.Slot(0).Playhead(); got > maxTickSeconds+1e-9 {
		t.Errorf("playhead = %f after clamped tick", got)
	}
}

func TestVisibleCountClamped(t *testing.T) {
	st := newStage(t, 0)
	if got := st.VisibleCount(); got != 3 {
		t.Errorf("visible = %d, want 3", got)
	}
	st.SetVisibleCount(9)
	if got := st.VisibleCount(); got != 5 {
		t.Errorf("visible = %d, want 5", got)
	}
}

func TestWatchDropFolder(t *testing.T) {
	st := newStage(t, 5)
	dir := t.TempDir()
	if err := st.WatchDropFolder(dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	dropFile(t, dir, "hero.zip",
		fbxtest.ModelArchive(t, []string{"Hip"}, []string{"Idle"}))

	deadline := time.Now().Add(5 * time.Second)
	for !st.Slot(0).Occupied() {
		if time.Now().After(deadline) {
			t.Fatal("dropped archive never ingested")
		}
		st.Tick(0.016)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManifestLoadAndAttach(t *testing.T) {
	archives := map[string][]byte{
		"/hero.zip":   fbxtest.ModelArchive(t, []string{"Hip", "Spine"}, []string{"Idle"}),
		"/dances.zip": fbxtest.ClipArchive(t, []string{"Hip", "Spine"}, []string{"Dance"}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method != http.MethodHead {
			w.Write(data)
		}
	}))
	defer srv.Close()

	m := &manifest.Manifest{
		ModelPacks: []manifest.Entry{{ID: "hero", Label: "Hero", FBXURL: srv.URL + "/hero.zip"}},
		ClipPacks:  []manifest.Entry{{ID: "dances", Label: "Dances", FBXURL: srv.URL + "/dances.zip"}},
	}
	reg := registry.New(m, fetch.New(srv.Client(), nil), nil)
	defer reg.Dispose()
	st := New(reg, 3, nil)
	defer st.Close()

	if err := st.LoadModel(context.Background(), 0, "hero"); err != nil {
		t.Fatalf("load model: %v", err)
	}
	n, err := st.AttachClip(context.Background(), "dances")
	if err != nil {
		t.Fatalf("attach clip: %v", err)
	}
	if n != 1 {
		t.Errorf("attached to %d slots, want 1", n)
	}
	if got := len(st.Slot(0).AnimationOptions()); got != 2 {
		t.Errorf("options = %d, want 2", got)
	}
}
