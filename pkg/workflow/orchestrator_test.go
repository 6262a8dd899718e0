package workflow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/capture-studio/pkg/describe"
	"github.com/menta2k/capture-studio/pkg/detection"
	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/random"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/stylize"
	"github.com/menta2k/capture-studio/pkg/types"
)

var fixedNow = time.Date(2024, time.March, 9, 8, 5, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func pngUpload(t *testing.T, name string, w, h int) *types.Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &types.Upload{Name: name, MediaType: "image/png", Data: buf.Bytes()}
}

// instantRemote is the simulated model without delays
func instantRemote(p *processing.Processor, failureRate float64) *stylize.Remote {
	cfg := stylize.RemoteConfig{BlockSize: stylize.RemoteBlockSize, FailureRate: failureRate}
	return stylize.NewRemote(p, cfg, random.New(3))
}

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.Random == nil {
		opts.Random = random.New(7)
	}
	if opts.Stylizer == nil {
		opts.Stylizer = instantRemote(opts.Processor, 0)
	}
	opts.Now = clock
	o := New(store.NewWithClock(clock), opts)
	t.Cleanup(o.Close)
	return o
}

type failingDetector struct{ err error }

func (d failingDetector) Detect(context.Context, preview.Blob) ([]types.DetectionBoxInput, error) {
	return nil, d.err
}

// fixedDetector returns the same boxes for every image
type fixedDetector []types.DetectionBoxInput

func (d fixedDetector) Detect(context.Context, preview.Blob) ([]types.DetectionBoxInput, error) {
	return append([]types.DetectionBoxInput(nil), d...), nil
}

// gatedDetector blocks on images of width gateWidth until gate is closed
type gatedDetector struct {
	gateWidth int
	gate      chan struct{}
}

func (d *gatedDetector) Detect(_ context.Context, b preview.Blob) ([]types.DetectionBoxInput, error) {
	if b.Width == d.gateWidth {
		<-d.gate
	}
	return detection.FallbackBoxes(b.Width, b.Height, 3), nil
}

type recordingSaver struct {
	err    error
	userID string
	base   preview.Blob
	box    types.NormalizedBounds
	draft  types.LabelDraft
}

func (s *recordingSaver) SaveArtwork(_ context.Context, userID string, base preview.Blob, box types.NormalizedBounds, draft types.LabelDraft) (string, error) {
	s.userID, s.base, s.box, s.draft = userID, base, box, draft
	if s.err != nil {
		return "", s.err
	}
	return "artwork-1", nil
}

func TestAcceptFile_EndToEnd(t *testing.T) {
	o := newOrchestrator(t, Options{})

	token, err := o.AcceptFile(pngUpload(t, "wide.png", 2000, 1000))
	require.NoError(t, err)
	require.Equal(t, uint64(1), token)
	o.Wait()

	status := o.Status()
	require.Equal(t, StateReady, status.State)
	require.False(t, status.Generating)
	require.Empty(t, status.Note)
	require.Empty(t, status.Error)
	require.Equal(t, 1600, status.Width)
	require.Equal(t, 800, status.Height)

	snap := o.Store().Snapshot()
	require.Equal(t, "wide.png", snap.UploadFile.Name)
	require.True(t, preview.IsHandle(snap.PreviewURL))
	resized, ok := o.Registry().Get(snap.PreviewURL)
	require.True(t, ok)
	require.Equal(t, resized.Data, snap.UploadFile.Data)
	require.Equal(t, resized.MediaType, snap.UploadFile.MediaType)
	require.GreaterOrEqual(t, len(snap.DetectionBoxes), 3)
	require.LessOrEqual(t, len(snap.DetectionBoxes), 5)
	require.Equal(t, snap.DetectionBoxes[0].ID, snap.SelectedBoxID)
	require.Equal(t, types.SaveIdle, snap.SaveStatus)

	for i, b := range snap.DetectionBoxes {
		d, ok := snap.LabelDrafts[b.ID]
		require.True(t, ok, "missing draft for %s", b.ID)
		require.Equal(t, 1.0, d.TagScale)
		name, category, _ := describe.Placeholder(i)
		require.Equal(t, name, d.Name)
		require.Equal(t, category, d.Category)
		require.GreaterOrEqual(t, d.Energy, 60)
		require.Less(t, d.Energy, 120)
		require.GreaterOrEqual(t, d.Health, 40)
		require.Less(t, d.Health, 100)
		require.Equal(t, types.TimeState{Hour: 8, Minute: 5, Month: 3, Day: 9}, d.Time)
		require.GreaterOrEqual(t, d.TagPosition.XPercent, 0.16)
		require.LessOrEqual(t, d.TagPosition.XPercent, 0.84)
		require.GreaterOrEqual(t, d.TagPosition.YPercent, 0.22)
		require.LessOrEqual(t, d.TagPosition.YPercent, 0.9)
	}

	handle, blob, ok := o.DisplayedPreview()
	require.True(t, ok)
	require.Equal(t, status.Preview, handle)
	require.NotEqual(t, snap.PreviewURL, handle)
	require.Equal(t, "image/png", blob.MediaType)
	require.Equal(t, 1600, blob.Width)
	require.Equal(t, 800, blob.Height)
}

func TestAcceptFile_RejectsNonImage(t *testing.T) {
	o := newOrchestrator(t, Options{})
	_, err := o.AcceptFile(pngUpload(t, "first.png", 300, 200))
	require.NoError(t, err)
	o.Wait()

	before := o.Store().Snapshot()
	beforeStatus := o.Status()

	_, err = o.AcceptFile(&types.Upload{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, before, o.Store().Snapshot())

	status := o.Status()
	require.Equal(t, MessageInvalidType, status.Error)
	require.Equal(t, beforeStatus.Token, status.Token)
	require.Equal(t, beforeStatus.State, status.State)

	_, err = o.AcceptFile(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAcceptFile_StaleResultsAreDiscarded(t *testing.T) {
	// the first upload resizes to 720x480, the second to 480x720
	det := &gatedDetector{gateWidth: 720, gate: make(chan struct{})}
	o := newOrchestrator(t, Options{Detector: det})

	first, err := o.AcceptFile(pngUpload(t, "first.png", 300, 200))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return o.Status().State == StateDetectingMock
	}, 5*time.Second, 5*time.Millisecond)

	second, err := o.AcceptFile(pngUpload(t, "second.png", 200, 300))
	require.NoError(t, err)
	require.Greater(t, second, first)
	require.Eventually(t, func() bool {
		return o.Status().State == StateReady
	}, 5*time.Second, 5*time.Millisecond)

	close(det.gate)
	o.Wait()

	snap := o.Store().Snapshot()
	require.Equal(t, "second.png", snap.UploadFile.Name)
	require.Equal(t, second, o.Status().Token)
	require.Equal(t, 480, o.Status().Width)
	require.Equal(t, 720, o.Status().Height)
	// resized and styled preview of the latest task only
	require.Equal(t, 2, o.Registry().Len())
}

func TestAcceptFile_StyleFallback(t *testing.T) {
	p := processing.NewProcessor()
	o := newOrchestrator(t, Options{Processor: p, Stylizer: instantRemote(p, 1)})

	_, err := o.AcceptFile(pngUpload(t, "photo.png", 400, 300))
	require.NoError(t, err)
	o.Wait()

	status := o.Status()
	require.Equal(t, StateReady, status.State)
	require.Equal(t, NoteFallback, status.Note)
	require.False(t, status.Generating)
	require.Empty(t, status.Error)

	resized, ok := o.Registry().Get(o.Store().Snapshot().PreviewURL)
	require.True(t, ok)
	want, err := p.Stylize(resized, stylize.LocalBlockSize)
	require.NoError(t, err)

	_, got, ok := o.DisplayedPreview()
	require.True(t, ok)
	require.Equal(t, want.Data, got.Data)
}

func TestAcceptFile_DetectionFailure(t *testing.T) {
	o := newOrchestrator(t, Options{Detector: failingDetector{err: errors.New("detector offline")}})

	_, err := o.AcceptFile(pngUpload(t, "photo.png", 400, 300))
	require.NoError(t, err)
	o.Wait()

	status := o.Status()
	require.Equal(t, StateError, status.State)
	require.Equal(t, MessageFailed, status.Error)
	require.False(t, status.Generating)

	snap := o.Store().Snapshot()
	require.Empty(t, snap.DetectionBoxes)
	require.Empty(t, snap.SelectedBoxID)
	require.Equal(t, types.SaveIdle, snap.SaveStatus)
	require.Zero(t, o.Registry().Len())
}

func TestAcceptFile_DecodeFailure(t *testing.T) {
	o := newOrchestrator(t, Options{})

	_, err := o.AcceptFile(&types.Upload{Name: "broken.png", MediaType: "image/png", Data: []byte("not a png")})
	require.NoError(t, err)
	o.Wait()

	require.Equal(t, StateError, o.Status().State)
	require.Empty(t, o.Store().Snapshot().DetectionBoxes)

	// a new file recovers
	_, err = o.AcceptFile(pngUpload(t, "ok.png", 400, 300))
	require.NoError(t, err)
	o.Wait()
	require.Equal(t, StateReady, o.Status().State)
	require.Empty(t, o.Status().Error)
}

func TestAcceptFile_ReleasesSupersededHandles(t *testing.T) {
	o := newOrchestrator(t, Options{})

	for i := 0; i < 3; i++ {
		_, err := o.AcceptFile(pngUpload(t, "photo.png", 300, 200))
		require.NoError(t, err)
		o.Wait()
		require.Equal(t, 2, o.Registry().Len())
	}

	o.Close()
	require.Zero(t, o.Registry().Len())
}

func TestSave(t *testing.T) {
	saver := &recordingSaver{}
	o := newOrchestrator(t, Options{Saver: saver})

	_, err := o.Save(context.Background(), "user-1")
	require.ErrorIs(t, err, ErrNothingToSave)

	_, err = o.AcceptFile(pngUpload(t, "photo.png", 400, 300))
	require.NoError(t, err)
	o.Wait()

	var statuses []types.SaveStatus
	unsubscribe := o.Store().Subscribe(func(s store.Session) { statuses = append(statuses, s.SaveStatus) })
	defer unsubscribe()

	id, err := o.Save(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "artwork-1", id)
	require.Equal(t, []types.SaveStatus{types.SaveSaving, types.SaveSuccess}, statuses)

	snap := o.Store().Snapshot()
	selected, _ := snap.SelectedDraft()
	box, _ := snap.Box(snap.SelectedBoxID)
	_, displayed, _ := o.DisplayedPreview()
	require.Equal(t, box.Bounds, saver.box)
	require.Equal(t, "user-1", saver.userID)
	require.Equal(t, selected, saver.draft)
	require.Equal(t, displayed.Data, saver.base.Data)
}

func TestSave_Failure(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	o := newOrchestrator(t, Options{Saver: saver})

	_, err := o.AcceptFile(pngUpload(t, "photo.png", 400, 300))
	require.NoError(t, err)
	o.Wait()

	_, err = o.Save(context.Background(), "user-1")
	require.Error(t, err)
	require.Equal(t, types.SaveError, o.Store().Snapshot().SaveStatus)
}

func TestSave_WithoutSaver(t *testing.T) {
	o := newOrchestrator(t, Options{})

	_, err := o.AcceptFile(pngUpload(t, "photo.png", 400, 300))
	require.NoError(t, err)
	o.Wait()

	_, err = o.Save(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, types.SaveSuccess, o.Store().Snapshot().SaveStatus)
}

func TestAcceptFile_NormalizesDetectorBounds(t *testing.T) {
	o := newOrchestrator(t, Options{Detector: fixedDetector{
		{ID: "box-0", Bounds: types.NormalizedBounds{X: -0.2, Y: 0.5, Width: 1.4, Height: 0.9}},
		{ID: "box-1", Bounds: types.NormalizedBounds{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}},
	}})

	_, err := o.AcceptFile(pngUpload(t, "photo.png", 400, 300))
	require.NoError(t, err)
	o.Wait()
	require.Equal(t, StateReady, o.Status().State)

	snap := o.Store().Snapshot()
	require.Len(t, snap.DetectionBoxes, 2)
	b := snap.DetectionBoxes[0].Bounds
	require.Equal(t, 0.0, b.X)
	require.Equal(t, 1.0, b.Width)
	require.InDelta(t, 0.5, b.Height, 1e-9)
	require.InDelta(t, 0.5, snap.DetectionBoxes[0].Area, 1e-9)
	require.Equal(t, "box-0", snap.SelectedBoxID)
}
