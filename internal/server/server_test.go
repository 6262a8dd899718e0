package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/capture-studio/pkg/collection"
	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/random"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/stylize"
	"github.com/menta2k/capture-studio/pkg/types"
	"github.com/menta2k/capture-studio/pkg/workflow"
)

type fixture struct {
	orch *workflow.Orchestrator
	coll *collection.Service
	srv  *Server
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := processing.NewProcessor()
	coll := collection.NewService(collection.NewMemoryRepository(), p, t.TempDir())
	orch := workflow.New(store.New(), workflow.Options{
		Processor: p,
		Random:    random.New(11),
		Stylizer:  stylize.NewRemote(p, stylize.RemoteConfig{BlockSize: 8}, random.New(5)),
		Saver:     coll,
	})
	srv := New(orch, coll, Options{})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		orch.Close()
	})
	return &fixture{orch: orch, coll: coll, srv: srv, http: ts}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 60, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, url, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/capture", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (f *fixture) capture(t *testing.T) sessionResponse {
	t.Helper()
	resp := upload(t, f.http.URL, "photo.png", "image/png", pngBytes(t, 400, 300))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.orch.Wait()
	return f.session(t)
}

func (f *fixture) session(t *testing.T) sessionResponse {
	t.Helper()
	resp, err := http.Get(f.http.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCaptureAndSession(t *testing.T) {
	f := newFixture(t)
	out := f.capture(t)

	require.Equal(t, workflow.StateReady, out.Status.State)
	require.Equal(t, 720, out.Status.Width)
	require.Equal(t, 540, out.Status.Height)
	require.GreaterOrEqual(t, len(out.Session.DetectionBoxes), 3)
	require.Equal(t, out.Session.DetectionBoxes[0].ID, out.Session.SelectedBoxID)
	require.Len(t, out.Session.LabelDrafts, len(out.Session.DetectionBoxes))

	resp, err := http.Get(f.http.URL + "/preview/" + out.Status.Preview)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(f.http.URL + "/api/overlay")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCapture_RejectsNonImage(t *testing.T) {
	f := newFixture(t)
	before := f.capture(t)

	resp := upload(t, f.http.URL, "notes.txt", "text/plain", []byte("hello"))
	resp.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	after := f.session(t)
	require.Equal(t, before.Session.SelectedBoxID, after.Session.SelectedBoxID)
	require.Equal(t, before.Session.PreviewURL, after.Session.PreviewURL)
	require.Equal(t, workflow.MessageInvalidType, after.Status.Error)
}

func TestSelectAndDraft(t *testing.T) {
	f := newFixture(t)
	out := f.capture(t)
	second := out.Session.DetectionBoxes[1].ID

	resp := doJSON(t, http.MethodPost, f.http.URL+"/api/boxes/"+second+"/select", "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.http.URL+"/api/boxes/missing/select", "")
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPatch, f.http.URL+"/api/boxes/"+second+"/draft", `{"name":"Blue Jar","energy":150}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.http.URL+"/api/editor/stat", `{"field":"health","value":260}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.http.URL+"/api/editor/teleport", `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	after := f.session(t)
	require.Equal(t, second, after.Session.SelectedBoxID)
	d := after.Session.LabelDrafts[second]
	require.Equal(t, "Blue Jar", d.Name)
	require.Equal(t, 150, d.Energy)
	require.Equal(t, 200, d.Health)
	require.Equal(t, out.Session.LabelDrafts[second].Category, d.Category)
}

func TestSaveAndList(t *testing.T) {
	f := newFixture(t)

	resp := doJSON(t, http.MethodPost, f.http.URL+"/api/save", `{"user_id":"u1"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	f.capture(t)
	resp = doJSON(t, http.MethodPost, f.http.URL+"/api/save", `{"user_id":"u1"}`)
	var saved struct {
		ID      string              `json:"id"`
		Artwork *collection.Artwork `json:"artwork"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, saved.ID, 16)
	require.NotNil(t, saved.Artwork)
	require.Equal(t, types.SaveSuccess, f.session(t).Session.SaveStatus)

	resp, err := http.Get(f.http.URL + saved.Artwork.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.http.URL + "/api/artworks?limit=5")
	require.NoError(t, err)
	var list struct {
		Items []collection.Artwork `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Items, 1)
	require.Equal(t, saved.ID, list.Items[0].ID)
	require.Equal(t, "u1", list.Items[0].UserID)

	resp, err = http.Get(f.http.URL + "/api/artworks?limit=99")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(f.http.URL + "/api/slots?n=3")
	require.NoError(t, err)
	var slots struct {
		Slots []collection.Slot `json:"slots"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&slots))
	resp.Body.Close()
	require.Len(t, slots.Slots, 3)
	require.NotNil(t, slots.Slots[0].Artwork)
	require.Nil(t, slots.Slots[1].Artwork)
}

func TestPreview_Unknown(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/preview/blob:missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readSession(t *testing.T, conn *websocket.Conn) store.Session {
	t.Helper()
	var msg eventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "session", msg.Type)
	return msg.Session
}

func TestWebsocket_DragGesture(t *testing.T) {
	f := newFixture(t)
	out := f.capture(t)
	boxID := out.Session.SelectedBoxID

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readSession(t, conn)
	require.Equal(t, boxID, initial.SelectedBoxID)

	send := func(m pointerMessage) {
		require.NoError(t, conn.WriteJSON(m))
	}
	container := wireRect{Width: 400, Height: 300}
	card := wireRect{Width: 80, Height: 40}
	send(pointerMessage{Type: msgDrag, BoxID: boxID, Container: container, Card: card, X: 200, Y: 150})
	send(pointerMessage{Type: msgMove, X: 1200, Y: 150})
	send(pointerMessage{Type: msgUp, X: 1200, Y: 150})

	var pos types.TagPosition
	for i := 0; i < 50; i++ {
		snap := readSession(t, conn)
		pos = snap.LabelDrafts[boxID].TagPosition
		if pos.XPercent > 0.89 {
			break
		}
	}
	require.InDelta(t, 0.9, pos.XPercent, 1e-9)
	require.InDelta(t, out.Session.LabelDrafts[boxID].TagPosition.YPercent, pos.YPercent, 1e-9)
}

func TestWebsocket_RejectsDegenerateGeometry(t *testing.T) {
	f := newFixture(t)
	out := f.capture(t)
	boxID := out.Session.SelectedBoxID
	start := out.Session.LabelDrafts[boxID].TagPosition

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	readSession(t, conn)

	send := func(m pointerMessage) {
		require.NoError(t, conn.WriteJSON(m))
	}
	send(pointerMessage{Type: msgDrag, BoxID: boxID, Container: wireRect{}, Card: wireRect{Width: 80, Height: 40}, X: 0, Y: 0})
	send(pointerMessage{Type: msgMove, X: 0, Y: 0})
	send(pointerMessage{Type: msgUp, X: 0, Y: 0})

	// A valid gesture afterwards still works
	send(pointerMessage{Type: msgDrag, BoxID: boxID, Container: wireRect{Width: 400, Height: 300}, Card: wireRect{Width: 80, Height: 40}, X: 200, Y: 150})
	send(pointerMessage{Type: msgMove, X: 240, Y: 150})
	send(pointerMessage{Type: msgUp, X: 240, Y: 150})

	var pos types.TagPosition
	for i := 0; i < 50; i++ {
		pos = readSession(t, conn).LabelDrafts[boxID].TagPosition
		if pos.XPercent != start.XPercent {
			break
		}
	}
	require.InDelta(t, geometry.Clamp(start.XPercent+0.1, 0.1, 0.9), pos.XPercent, 1e-9)
	require.InDelta(t, start.YPercent, pos.YPercent, 1e-9)

	after := f.session(t)
	require.Equal(t, pos, after.Session.LabelDrafts[boxID].TagPosition)
}

func TestPatchDraft_ClampsValues(t *testing.T) {
	f := newFixture(t)
	out := f.capture(t)
	boxID := out.Session.SelectedBoxID

	body := `{"energy":9999,"health":-5,"tagScale":50,"tagPosition":{"xPercent":7,"yPercent":-3},` +
		`"time":{"hour":99,"minute":99,"month":0,"day":77}}`
	resp := doJSON(t, http.MethodPatch, f.http.URL+"/api/boxes/"+boxID+"/draft", body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d := f.session(t).Session.LabelDrafts[boxID]
	require.Equal(t, 200, d.Energy)
	require.Equal(t, 0, d.Health)
	require.Equal(t, types.TimeState{Hour: 23, Minute: 59, Month: 1, Day: 31}, d.Time)
	require.Equal(t, types.TagPosition{XPercent: 1, YPercent: 0}, d.TagPosition)
	require.InDelta(t, 1.6, d.TagScale, 1e-9)
}
