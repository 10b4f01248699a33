package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

func TestClientSendsVersionAndBasicAuth(t *testing.T) {
	var gotVersion, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.URL.Query().Get("api-version")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"count": 1,
			"value": []map[string]any{{"id": "p1", "name": "Alpha", "state": "wellFormed"}},
		})
	}))
	defer server.Close()

	client := New(server.URL, "secret-pat", WithAPIVersion("7.1"))
	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if gotVersion != "7.1" {
		t.Errorf("api-version = %q, want %q", gotVersion, "7.1")
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret-pat"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if len(projects) != 1 || projects[0].ID != "p1" || projects[0].Name != "Alpha" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
}

func TestGetProjectMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such project"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "pat")
	_, err := client.GetProject(context.Background(), "ghost")
	var nf *NotFoundError
	if !asNotFound(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.ID != "ghost" {
		t.Errorf("NotFoundError.ID = %q, want %q", nf.ID, "ghost")
	}
}

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "bad request becomes validation error",
			status: http.StatusBadRequest,
			body:   `{"message":"field is required"}`,
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if ve.Message != "field is required" {
					t.Errorf("message = %q", ve.Message)
				}
			},
		},
		{
			name:   "server error becomes upstream error",
			status: http.StatusServiceUnavailable,
			body:   `{"message":"maintenance"}`,
			check: func(t *testing.T, err error) {
				var ue *UpstreamError
				if !asUpstream(err, &ue) {
					t.Fatalf("expected UpstreamError, got %v", err)
				}
				if ue.Status != http.StatusServiceUnavailable {
					t.Errorf("status = %d", ue.Status)
				}
				if ue.Message != "maintenance" {
					t.Errorf("message = %q", ue.Message)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.body, tc.status)
			}))
			defer server.Close()

			client := New(server.URL, "pat")
			_, err := client.ListProjects(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			tc.check(t, err)
		})
	}
}

func TestListWorkItemsQueriesThenBatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/proj/_apis/wit/wiql":
			json.NewEncoder(w).Encode(map[string]any{
				"workItems": []map[string]any{{"id": 12}, {"id": 13}},
			})
		case "/proj/_apis/wit/workitemsbatch":
			var batch struct {
				IDs    []int  `json:"ids"`
				Expand string `json:"$expand"`
			}
			json.NewDecoder(r.Body).Decode(&batch)
			if batch.Expand != "relations" {
				t.Errorf("$expand = %q, want relations", batch.Expand)
			}
			if len(batch.IDs) != 2 {
				t.Errorf("batch ids = %v", batch.IDs)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"count": 2,
				"value": []map[string]any{
					{
						"id": 12,
						"fields": map[string]any{
							"System.Title":                   "Parent epic",
							"System.WorkItemType":            "Epic",
							"System.State":                   "Active",
							"Microsoft.VSTS.Common.Priority": float64(2),
							"System.AssignedTo":              map[string]any{"uniqueName": "alice@example.com", "displayName": "Alice"},
						},
					},
					{
						"id": 13,
						"fields": map[string]any{
							"System.Title":        "Child task",
							"System.WorkItemType": "Task",
						},
						"relations": []map[string]any{
							{
								"rel": "System.LinkTypes.Hierarchy-Reverse",
								"url": "https://example.test/_apis/wit/workItems/12",
							},
							{
								"rel": "AttachedFile",
								"url": "https://example.test/_apis/wit/attachments/abc-123?fileName=log.txt",
								"attributes": map[string]any{
									"name":    "log.txt",
									"comment": "crash log",
								},
							},
						},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "pat")
	items, err := client.ListWorkItems(context.Background(), "proj")
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	parent, child := items[0], items[1]
	if parent.Priority != 2 || parent.AssignedTo != "alice@example.com" {
		t.Errorf("parent fields not mapped: %+v", parent)
	}
	if child.ParentID != 12 {
		t.Errorf("child ParentID = %d, want 12", child.ParentID)
	}
	if len(child.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(child.Attachments))
	}
	att := child.Attachments[0]
	if att.ID != "abc-123" || att.Name != "log.txt" || att.Comment != "crash log" {
		t.Errorf("attachment not mapped: %+v", att)
	}
}

func TestCreateWorkItemSendsPatchDocument(t *testing.T) {
	var gotContentType string
	var gotOps []patchOperation
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotOps)
		json.NewEncoder(w).Encode(map[string]any{
			"id": 42,
			"fields": map[string]any{
				"System.Title":        "New bug",
				"System.WorkItemType": "Bug",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "pat")
	created, err := client.CreateWorkItem(context.Background(), "proj", domain.WorkItem{
		Type: "Bug", Title: "New bug", State: "New", Tags: "p1",
	})
	if err != nil {
		t.Fatalf("CreateWorkItem: %v", err)
	}
	if created.ID != 42 {
		t.Errorf("created ID = %d, want 42", created.ID)
	}
	if gotContentType != "application/json-patch+json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	paths := map[string]bool{}
	for _, op := range gotOps {
		if op.Op != "add" {
			t.Errorf("op = %q, want add", op.Op)
		}
		paths[op.Path] = true
	}
	for _, want := range []string{"/fields/System.Title", "/fields/System.State", "/fields/System.Tags"} {
		if !paths[want] {
			t.Errorf("missing patch path %s in %v", want, gotOps)
		}
	}
}

func TestCreateWorkItemRequiresType(t *testing.T) {
	client := New("https://example.test", "pat")
	_, err := client.CreateWorkItem(context.Background(), "proj", domain.WorkItem{Title: "no type"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateWorkItemRejectsEmptyPatch(t *testing.T) {
	client := New("https://example.test", "pat")
	_, err := client.UpdateWorkItem(context.Background(), "proj", 7, domain.WorkItemPatch{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateCredential(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"count": 0, "value": []any{}})
	}))
	defer server.Close()

	client := New(server.URL, "pat")

	status = http.StatusOK
	ok, err := client.ValidateCredential(context.Background(), server.URL, "pat")
	if err != nil || !ok {
		t.Fatalf("valid credential: ok=%v err=%v", ok, err)
	}

	status = http.StatusUnauthorized
	ok, err = client.ValidateCredential(context.Background(), server.URL, "bad")
	if err != nil {
		t.Fatalf("rejected credential must not error: %v", err)
	}
	if ok {
		t.Fatal("rejected credential reported valid")
	}

	status = http.StatusInternalServerError
	if _, err = client.ValidateCredential(context.Background(), server.URL, "pat"); err == nil {
		t.Fatal("expected error when the check itself fails")
	}
}

func TestAttachmentIDFromURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://example.test/_apis/wit/attachments/abc-123", "abc-123"},
		{"https://example.test/_apis/wit/attachments/abc-123?fileName=log.txt", "abc-123"},
		{"https://example.test/_apis/wit/workItems/12", ""},
	}
	for _, tc := range cases {
		if got := AttachmentIDFromURL(tc.in); got != tc.want {
			t.Errorf("AttachmentIDFromURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
