package test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type instanceView struct {
	ID        int64  `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"podName"`
	PlanType  string `json:"planType"`
	NodePort  int    `json:"nodePort"`
	Status    string `json:"status"`
	AccessURL string `json:"accessUrl"`
}

func provision(t *testing.T, s *TestServer, planType string) (*instanceView, *http.Response) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"planType": planType, "email": "it@example.com"})
	resp, err := http.Post(s.URL()+"/api/pods", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("provision request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, resp
	}
	var view instanceView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode provision response: %v", err)
	}
	return &view, resp
}

// waitForStatus polls the status endpoint until the instance reaches want or
// the deadline expires.
func waitForStatus(t *testing.T, s *TestServer, id int64, want string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/api/pods/%d/status", s.URL(), id))
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		var view instanceView
		err = json.NewDecoder(resp.Body).Decode(&view)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("failed to decode status response: %v", err)
		}
		if view.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("instance %d never reached status %q", id, want)
}

func TestProvisionLifecycle(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	view, resp := provision(t, s, "basic")
	if view == nil {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if view.Status != "creating" {
		t.Fatalf("expected status creating in provision response, got %q", view.Status)
	}
	if view.NodePort != 31000 {
		t.Fatalf("expected first port 31000, got %d", view.NodePort)
	}
	if view.AccessURL != "http://192.168.31.152:31000" {
		t.Fatalf("unexpected access URL %q", view.AccessURL)
	}

	waitForStatus(t, s, view.ID, "running")

	resp2, err := http.Get(s.URL() + "/api/users/" + view.UserID + "/pods")
	if err != nil {
		t.Fatalf("user pods request failed: %v", err)
	}
	defer resp2.Body.Close()
	var listing struct {
		Pods []instanceView `json:"pods"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&listing); err != nil {
		t.Fatalf("failed to decode user pods: %v", err)
	}
	if len(listing.Pods) != 1 || listing.Pods[0].ID != view.ID {
		t.Fatalf("expected the provisioned instance in the user listing, got %+v", listing.Pods)
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/pods/%d", s.URL(), view.ID), nil)
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp3.StatusCode)
	}

	resp4, err := http.Get(fmt.Sprintf("%s/api/pods/%d/status", s.URL(), view.ID))
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp4.StatusCode)
	}
}

func TestProvisionInvalidPlan(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	view, resp := provision(t, s, "enterprise")
	if view != nil {
		t.Fatal("expected provisioning to be rejected")
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProvisionMalformedBody(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	resp, err := http.Post(s.URL()+"/api/pods", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestFailedProvisionKeepsPort(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	s.Cluster.setCreateErr(errors.New("namespace quota exceeded"))

	view, resp := provision(t, s, "basic")
	if view == nil {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	waitForStatus(t, s, view.ID, "failed")

	// The failed row still owns its port until deleted.
	s.Cluster.setCreateErr(nil)
	second, resp2 := provision(t, s, "basic")
	if second == nil {
		t.Fatalf("expected 201, got %d", resp2.StatusCode)
	}
	if second.NodePort != 31001 {
		t.Fatalf("expected failed instance to hold 31000, second got %d", second.NodePort)
	}

	// Deleting the failed row frees the port.
	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/pods/%d", s.URL(), view.ID), nil)
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 deleting failed instance, got %d", resp3.StatusCode)
	}

	third, resp4 := provision(t, s, "basic")
	if third == nil {
		t.Fatalf("expected 201, got %d", resp4.StatusCode)
	}
	if third.NodePort != 31000 {
		t.Fatalf("expected freed port 31000, got %d", third.NodePort)
	}
}

func TestDeleteUnknownInstance(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	req, _ := http.NewRequest(http.MethodDelete, s.URL()+"/api/pods/424242", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClusterStatusEndpoint(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	s.Cluster.summary.Nodes = 2
	s.Cluster.summary.TotalPods = 5
	s.Cluster.summary.RunningPods = 4

	resp, err := http.Get(s.URL() + "/api/cluster/status")
	if err != nil {
		t.Fatalf("cluster status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status struct {
		Cluster struct {
			Nodes int `json:"nodes"`
		} `json:"cluster"`
		Ports struct {
			Total     int `json:"total"`
			Used      int `json:"used"`
			Available int `json:"available"`
		} `json:"ports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode cluster status: %v", err)
	}
	if status.Cluster.Nodes != 2 {
		t.Errorf("expected 2 nodes, got %d", status.Cluster.Nodes)
	}
	if status.Ports.Total != 10 {
		t.Errorf("expected port total 10, got %d", status.Ports.Total)
	}
	if status.Ports.Used+status.Ports.Available != status.Ports.Total {
		t.Errorf("port stats inconsistent: %+v", status.Ports)
	}
}

func TestPlansEndpoint(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	resp, err := http.Get(s.URL() + "/api/plans")
	if err != nil {
		t.Fatalf("plans request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Plans []struct {
			ID        string `json:"id"`
			StorageGB int    `json:"storageGB"`
		} `json:"plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode plans: %v", err)
	}
	if len(payload.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(payload.Plans))
	}
}

func TestListAllInstances(t *testing.T) {
	s := NewTestServer(t)
	defer s.Close()

	for i := 0; i < 3; i++ {
		if view, resp := provision(t, s, "basic"); view == nil {
			t.Fatalf("provision %d: expected 201, got %d", i, resp.StatusCode)
		}
	}

	resp, err := http.Get(s.URL() + "/api/pods")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Pods []instanceView `json:"pods"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Pods) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(listing.Pods))
	}
}
