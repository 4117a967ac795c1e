package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/flow"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/images"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	imgs, err := images.NewService(images.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("image service failed: %v", err)
	}
	sessions := flow.NewSessionManager(nil, nil)
	return NewServer(store.NewInMemoryStore(), imgs, sessions, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body failed: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func resultMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T (%v)", resp.Result, resp.Result)
	}
	return result
}

func validFlowBody(title string) map[string]interface{} {
	return map[string]interface{}{
		"title": title,
		"steps": []map[string]interface{}{
			{"id": "s1", "title": "First", "message": "Where is the fault?", "type": "start"},
			{"id": "s2", "title": "Second", "message": "Done.", "type": "end"},
		},
	}
}

func createFlow(t *testing.T, s *Server, title string) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/flows", validFlowBody(title))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create flow failed: %d %s", rec.Code, rec.Body.String())
	}
	id, _ := resultMap(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("create flow returned no id")
	}
	return id
}

func TestCreateAndGetFlow(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "engine will not start")

	rec := doJSON(t, s, http.MethodGet, "/flows/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get flow failed: %d %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("expected no-store cache control, got %q", cc)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected an ETag header")
	}
	result := resultMap(t, rec)
	doc, ok := result["flow"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected flow in result, got %v", result)
	}
	if doc["title"] != "engine will not start" {
		t.Errorf("unexpected title %v", doc["title"])
	}
	meta, ok := result["metadata"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected metadata in result, got %v", result)
	}
	requestID, _ := meta["requestId"].(string)
	if !strings.HasPrefix(requestID, "req_") {
		t.Errorf("expected request id, got %v", meta["requestId"])
	}
}

func TestListFlowsNoCacheHeaders(t *testing.T) {
	s := newTestServer(t)
	createFlow(t, s, "engine will not start")

	rec := doJSON(t, s, http.MethodGet, "/flows", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list flows failed: %d %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("expected no-store cache control on listing, got %q", cc)
	}
	if pragma := rec.Header().Get("Pragma"); pragma != "no-cache" {
		t.Errorf("expected pragma no-cache on listing, got %q", pragma)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected an ETag header on listing")
	}
}

func TestCreateFlowDefaultsTitle(t *testing.T) {
	s := newTestServer(t)
	body := validFlowBody("")
	delete(body, "title")
	rec := doJSON(t, s, http.MethodPost, "/flows", body)
	// AutoFix supplies the default title, so creation succeeds.
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected auto-fixed create to succeed, got %d %s", rec.Code, rec.Body.String())
	}
	result := resultMap(t, rec)
	if result["title"] != models.DefaultFlowTitle {
		t.Errorf("expected default title, got %v", result["title"])
	}
}

func TestCreateFlowRejectsInvalidStepType(t *testing.T) {
	s := newTestServer(t)
	body := validFlowBody("coolant leak")
	body["steps"].([]map[string]interface{})[0]["type"] = "martian"
	rec := doJSON(t, s, http.MethodPost, "/flows", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid step type to be rejected, got %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	errs, _ := resp.Result.([]interface{})
	if len(errs) == 0 {
		t.Fatalf("expected validation errors in result, got %v", resp.Result)
	}
	if msg, _ := errs[0].(string); !strings.Contains(msg, "martian") {
		t.Errorf("expected the offending type in the error, got %q", msg)
	}

	list := doJSON(t, s, http.MethodGet, "/flows", nil)
	if summaries, _ := decodeResponse(t, list).Result.([]interface{}); len(summaries) != 0 {
		t.Errorf("rejected flow must not be stored, got %d summaries", len(summaries))
	}
}

func TestUpdateFlowRejectsInvalidQuestionType(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "battery drain")

	body := validFlowBody("battery drain")
	body["id"] = id
	body["steps"].([]map[string]interface{})[1]["questionType"] = "telepathy"
	rec := doJSON(t, s, http.MethodPut, "/flows/"+id, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid question type to be rejected, got %d %s", rec.Code, rec.Body.String())
	}

	get := doJSON(t, s, http.MethodGet, "/flows/"+id, nil)
	doc, _ := resultMap(t, get)["flow"].(map[string]interface{})
	steps, _ := doc["steps"].([]interface{})
	if len(steps) != 2 {
		t.Fatalf("expected the stored flow unchanged, got %v", doc["steps"])
	}
	step, _ := steps[1].(map[string]interface{})
	if qt, _ := step["questionType"].(string); qt == "telepathy" {
		t.Error("invalid question type must not be persisted")
	}
}

func TestCreateFlowRejectsBadJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestUpdateFlowIDMismatch(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "original")

	body := validFlowBody("renamed")
	body["id"] = "a-completely-different-id"
	rec := doJSON(t, s, http.MethodPut, "/flows/"+id, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for id mismatch, got %d %s", rec.Code, rec.Body.String())
	}

	// The stored document is untouched.
	rec = doJSON(t, s, http.MethodGet, "/flows/"+id, nil)
	doc := resultMap(t, rec)["flow"].(map[string]interface{})
	if doc["title"] != "original" {
		t.Errorf("mismatched update must not write, title is %v", doc["title"])
	}
}

func TestUpdateFlowWithoutBodyID(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "before")
	rec := doJSON(t, s, http.MethodPut, "/flows/"+id, validFlowBody("after"))
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rec.Code, rec.Body.String())
	}
	if result := resultMap(t, rec); result["title"] != "after" {
		t.Errorf("unexpected updated title %v", result["title"])
	}
}

func TestDeleteFlow(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "short lived")
	if rec := doJSON(t, s, http.MethodDelete, "/flows/"+id, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/flows/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodDelete, "/flows/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for double delete, got %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	s := newTestServer(t)
	body := validFlowBody("valid flow")
	rec := doJSON(t, s, http.MethodPost, "/flows/validate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate failed: %d %s", rec.Code, rec.Body.String())
	}
	if result := resultMap(t, rec); result["isValid"] != true {
		t.Errorf("expected valid result, got %v", result)
	}

	// Duplicate step ids are a structural error.
	bad := validFlowBody("broken flow")
	bad["steps"] = []map[string]interface{}{
		{"id": "dup", "title": "A", "type": "start"},
		{"id": "dup", "title": "B", "type": "end"},
	}
	rec = doJSON(t, s, http.MethodPost, "/flows/validate", bad)
	if result := resultMap(t, rec); result["isValid"] != false {
		t.Errorf("expected invalid result, got %v", result)
	}
}

func TestValidateStrictAddsGraphIssues(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"title": "dangling",
		"steps": []map[string]interface{}{
			{
				"id": "s1", "title": "First", "type": "start",
				"options": []map[string]interface{}{
					{"text": "Yes", "nextStepId": "never-defined"},
				},
			},
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/flows/validate", body)
	if result := resultMap(t, rec); result["isValid"] != true {
		t.Errorf("default validation must not check the graph, got %v", result)
	}
	rec = doJSON(t, s, http.MethodPost, "/flows/validate?strict=1", body)
	if result := resultMap(t, rec); result["isValid"] != false {
		t.Errorf("strict validation must report the dangling reference, got %v", result)
	}
}

func TestGenerateEndpointWithoutCollaborator(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/flows/generate", map[string]string{"keyword": "brake noise"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate failed: %d %s", rec.Code, rec.Body.String())
	}
	result := resultMap(t, rec)
	if result["title"] != "brake noise" {
		t.Errorf("expected skeleton flow titled by keyword, got %v", result["title"])
	}

	rec = doJSON(t, s, http.MethodPost, "/flows/generate", map[string]string{"keyword": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing keyword, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)
	body := validFlowBody("coupler jam response")
	body["triggerKeywords"] = []string{"coupler", "jam"}
	if rec := doJSON(t, s, http.MethodPost, "/flows", body); rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/flows/search?q=coupler", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search failed: %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	hits, ok := resp.Result.([]interface{})
	if !ok || len(hits) != 1 {
		t.Errorf("expected one hit, got %v", resp.Result)
	}

	rec = doJSON(t, s, http.MethodGet, "/flows/search?q=unrelated", nil)
	resp = decodeResponse(t, rec)
	if hits, ok := resp.Result.([]interface{}); !ok || len(hits) != 0 {
		t.Errorf("expected empty hit list, got %v", resp.Result)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "starter diagnosis")

	rec := doJSON(t, s, http.MethodPost, "/sessions", map[string]string{"flowId": id})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session failed: %d %s", rec.Code, rec.Body.String())
	}
	state := resultMap(t, rec)
	sessionID, _ := state["id"].(string)
	if sessionID == "" || state["status"] != string(models.SessionStatusRunning) {
		t.Fatalf("unexpected initial state %v", state)
	}

	rec = doJSON(t, s, http.MethodPost, "/sessions/"+sessionID+"/answers", map[string]string{"answer": "the engine clicks"})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/sessions/"+sessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session failed: %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/sessions/"+sessionID+"/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset failed: %d %s", rec.Code, rec.Body.String())
	}
	if state := resultMap(t, rec); state["progress"] != float64(flow.InitialProgress) {
		t.Errorf("expected reset progress, got %v", state["progress"])
	}

	if rec := doJSON(t, s, http.MethodDelete, "/sessions/"+sessionID, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete session failed: %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/sessions/"+sessionID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestSessionClosedConflict(t *testing.T) {
	s := newTestServer(t)
	id := createFlow(t, s, "one answer flow")

	rec := doJSON(t, s, http.MethodPost, "/sessions", map[string]string{"flowId": id})
	sessionID := resultMap(t, rec)["id"].(string)

	// With no collaborator the second answer lands on a completed session.
	doJSON(t, s, http.MethodPost, "/sessions/"+sessionID+"/answers", map[string]string{"answer": "first"})
	rec = doJSON(t, s, http.MethodPost, "/sessions/"+sessionID+"/answers", map[string]string{"answer": "second"})
	rec = doJSON(t, s, http.MethodPost, "/sessions/"+sessionID+"/answers", map[string]string{"answer": "third"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a closed session, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionUnknownFlow(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/sessions", map[string]string{"flowId": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown flow, got %d", rec.Code)
	}
}

func uploadImage(t *testing.T, s *Server, fileName string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, fileName))
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create multipart part failed: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write multipart payload failed: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/flows/images", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestImageUploadAndServe(t *testing.T) {
	s := newTestServer(t)
	payload := append([]byte{0x89, 'P', 'N', 'G'}, bytes.Repeat([]byte{1}, 32)...)

	rec := uploadImage(t, s, "brake-pads.png", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}
	result := resultMap(t, rec)
	fileName, _ := result["fileName"].(string)
	if fileName == "" || result["isDuplicate"] != false {
		t.Fatalf("unexpected upload result %v", result)
	}

	// Re-uploading identical bytes reports the duplicate.
	rec = uploadImage(t, s, "other-name.png", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate upload failed: %d %s", rec.Code, rec.Body.String())
	}
	if result := resultMap(t, rec); result["isDuplicate"] != true || result["fileName"] != fileName {
		t.Errorf("expected dedup against the first asset, got %v", result)
	}

	rec = doJSON(t, s, http.MethodGet, "/flows/images/"+fileName, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("serve failed: %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("served bytes differ from uploaded bytes")
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("expected immutable cache control, got %q", cc)
	}
}

func TestImageServeRejectsBadNames(t *testing.T) {
	s := newTestServer(t)
	if rec := doJSON(t, s, http.MethodGet, "/flows/images/.hidden.png", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a dotfile name, got %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodGet, "/flows/images/unknown.png", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown asset, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health failed: %d", rec.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health failed: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("unexpected health payload %v", health)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/flows"},
		{http.MethodGet, "/flows/generate"},
		{http.MethodPut, "/flows/search"},
		{http.MethodDelete, "/health"},
		{http.MethodGet, "/sessions"},
	}
	for _, c := range cases {
		if rec := doJSON(t, s, c.method, c.path, nil); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", c.method, c.path, rec.Code)
		}
	}
}
