package bill

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roadassist/internal/apiclient"
	"roadassist/internal/model"
)

func TestDraftTotals(t *testing.T) {
	d := NewDraft("req-1").
		AddItem("Spark plug", 4, 120).
		AddItem("Engine oil 1L", 2, 450.50).
		AddService("Towing", 800)

	if got := d.ItemsTotal(); got != 1381 {
		t.Fatalf("items total = %v, want 1381", got)
	}
	if got := d.ServicesTotal(); got != 800 {
		t.Fatalf("services total = %v, want 800", got)
	}
	if got := d.GrandTotal(); got != 2181 {
		t.Fatalf("grand total = %v, want 2181", got)
	}
}

func TestValidate(t *testing.T) {
	if err := NewDraft("req-1").Validate(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty draft: %v", err)
	}
	if err := NewDraft("req-1").AddItem("", 1, 10).Validate(); !errors.Is(err, ErrBadItem) {
		t.Fatalf("nameless item: %v", err)
	}
	if err := NewDraft("req-1").AddItem("Fuse", 0, 10).Validate(); !errors.Is(err, ErrBadItem) {
		t.Fatalf("zero quantity: %v", err)
	}
	if err := NewDraft("req-1").AddService("Jump start", -1).Validate(); !errors.Is(err, ErrBadService) {
		t.Fatalf("negative service: %v", err)
	}
	if err := NewDraft("req-1").AddService("Jump start", 300).Validate(); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}
}

func TestSubmitSendsDraft(t *testing.T) {
	var got struct {
		RequestID string              `json:"request_id"`
		Items     []model.BillItem    `json:"items"`
		Services  []model.BillService `json:"services"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mechanic/bill/create" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	api := apiclient.New(srv.URL, 2*time.Second)
	d := NewDraft("req-7").AddItem("Battery", 1, 5200).AddService("Installation", 400)
	if err := d.Submit(context.Background(), api); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "req-7" || len(got.Items) != 1 || len(got.Services) != 1 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSubmitRejectsInvalidWithoutRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid draft reached the backend")
	}))
	defer srv.Close()

	api := apiclient.New(srv.URL, 2*time.Second)
	if err := NewDraft("req-7").Submit(context.Background(), api); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v", err)
	}
}

func TestReviewRecomputesMissingTotals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Bill{
			RequestID: "req-3",
			Items:     []model.BillItem{{Name: "Tube", Quantity: 2, Price: 250}},
			Services:  []model.BillService{{Name: "Puncture repair", Price: 150}},
			Status:    model.BillCreated,
		})
	}))
	defer srv.Close()

	api := apiclient.New(srv.URL, 2*time.Second)
	b, err := Review(context.Background(), api, "req-3")
	if err != nil {
		t.Fatal(err)
	}
	if b.ItemsTotal != 500 || b.ServicesTotal != 150 || b.GrandTotal != 650 {
		t.Fatalf("totals = %v %v %v", b.ItemsTotal, b.ServicesTotal, b.GrandTotal)
	}
}
