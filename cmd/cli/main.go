package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

var serverURL = envOr("PODBAY_SERVER", "http://localhost:8080")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "provision":
		provisionPod(args)
	case "list":
		listPods(args)
	case "delete":
		deletePod(args)
	case "cluster":
		clusterStatus()
	case "plans":
		listPlans()
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`podbay - per-user pod provisioning

Usage:
  podbay provision --plan <basic|pro> [--email <email>]
  podbay list [--user <userId>]
  podbay delete <instanceId>
  podbay cluster
  podbay plans

Environment:
  PODBAY_SERVER   server base URL (default http://localhost:8080)`)
}

func provisionPod(args []string) {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	plan := fs.String("plan", "basic", "plan type (basic or pro)")
	email := fs.String("email", "", "account email")
	fs.Parse(args)

	payload, _ := json.Marshal(map[string]string{
		"planType": *plan,
		"email":    *email,
	})

	resp, err := httpClient().Post(serverURL+"/api/pods", "application/json", bytes.NewReader(payload))
	if err != nil {
		fail("provision request failed: %v", err)
	}
	defer resp.Body.Close()

	var view struct {
		ID        int64  `json:"id"`
		UserID    string `json:"userId"`
		Name      string `json:"podName"`
		PlanType  string `json:"planType"`
		NodePort  int    `json:"nodePort"`
		Status    string `json:"status"`
		AccessURL string `json:"accessUrl"`
	}
	if resp.StatusCode != http.StatusCreated {
		failBody(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		fail("bad response: %v", err)
	}

	fmt.Printf("provisioning started\n")
	fmt.Printf("  instance: %d (%s)\n", view.ID, view.Name)
	fmt.Printf("  user:     %s\n", view.UserID)
	fmt.Printf("  port:     %d\n", view.NodePort)
	fmt.Printf("  url:      %s\n", view.AccessURL)
	fmt.Printf("  status:   %s (poll with: podbay list --user %s)\n", view.Status, view.UserID)
}

func listPods(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "filter by user id")
	fs.Parse(args)

	url := serverURL + "/api/pods"
	if *user != "" {
		url = serverURL + "/api/users/" + *user + "/pods"
	}

	resp, err := httpClient().Get(url)
	if err != nil {
		fail("list request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		failBody(resp)
	}

	var result struct {
		Pods []struct {
			ID       int64  `json:"id"`
			UserID   string `json:"userId"`
			Name     string `json:"podName"`
			PlanType string `json:"planType"`
			NodePort int    `json:"nodePort"`
			Status   string `json:"status"`
		} `json:"pods"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fail("bad response: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tNAME\tPLAN\tPORT\tSTATUS")
	for _, p := range result.Pods {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", p.ID, p.UserID, p.Name, p.PlanType, p.NodePort, p.Status)
	}
	w.Flush()
}

func deletePod(args []string) {
	if len(args) < 1 {
		fail("usage: podbay delete <instanceId>")
	}

	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/pods/"+args[0], nil)
	if err != nil {
		fail("bad request: %v", err)
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		fail("delete request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		failBody(resp)
	}

	fmt.Println("instance deleted")
}

func clusterStatus() {
	resp, err := httpClient().Get(serverURL + "/api/cluster/status")
	if err != nil {
		fail("cluster status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		failBody(resp)
	}

	var status struct {
		Cluster struct {
			Nodes       int `json:"nodes"`
			TotalPods   int `json:"totalPods"`
			RunningPods int `json:"runningPods"`
		} `json:"cluster"`
		Ports struct {
			Total     int `json:"total"`
			Used      int `json:"used"`
			Available int `json:"available"`
		} `json:"ports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fail("bad response: %v", err)
	}

	fmt.Printf("cluster: %d nodes, %d pods (%d running)\n",
		status.Cluster.Nodes, status.Cluster.TotalPods, status.Cluster.RunningPods)
	fmt.Printf("ports:   %d/%d used, %d available\n",
		status.Ports.Used, status.Ports.Total, status.Ports.Available)
}

func listPlans() {
	resp, err := httpClient().Get(serverURL + "/api/plans")
	if err != nil {
		fail("plans request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		failBody(resp)
	}

	var result struct {
		Plans []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			CPUMilli  int    `json:"cpuMilli"`
			MemoryMB  int    `json:"memoryMB"`
			StorageGB int    `json:"storageGB"`
		} `json:"plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fail("bad response: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tCPU(m)\tMEM(MB)\tSTORAGE(GB)\tNAME")
	for _, p := range result.Plans {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", p.ID, p.CPUMilli, p.MemoryMB, p.StorageGB, p.Name)
	}
	w.Flush()
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func failBody(resp *http.Response) {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Message != "" {
		fail("server error (%d): %s", resp.StatusCode, e.Message)
	}
	fail("server error: %d", resp.StatusCode)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
