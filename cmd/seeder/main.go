package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Owner mirrors the tracker's owner payload.
type Owner struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Details mirrors the optional record fields.
type Details struct {
	Year    string `json:"year"`
	VIN     string `json:"vin"`
	Mileage string `json:"mileage"`
	Owner   Owner  `json:"owner"`
}

// CreateRequest is the add-form payload.
type CreateRequest struct {
	Model     string   `json:"model"`
	WorkItems []string `json:"workItems"`
	Details   Details  `json:"details"`
}

// WorkItem is one task on a created record.
type WorkItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Record is the part of a tracker record the seeder reads back.
type Record struct {
	ID        int64      `json:"id"`
	Model     string     `json:"model"`
	Status    string     `json:"status"`
	WorkItems []WorkItem `json:"workItems"`
}

var vehicles = map[string][]string{
	"Ford":      {"F-150", "Mach-E", "Focus"},
	"Toyota":    {"Camry", "Corolla", "RAV4"},
	"Honda":     {"Civic", "Accord"},
	"Nissan":    {"Leaf", "Qashqai"},
	"Chevrolet": {"Silverado", "Bolt"},
}

var services = []string{
	"oil change", "brake pads", "tire rotation", "battery check", "inspection",
	"wheel alignment", "air filter", "coolant flush", "wiper blades",
}

var owners = []string{"Ann", "Boris", "Chen", "Dana", "Emeka", ""}

func randomRequest(rng *rand.Rand) CreateRequest {
	makes := make([]string, 0, len(vehicles))
	for m := range vehicles {
		makes = append(makes, m)
	}
	sort.Strings(makes)
	mk := makes[rng.Intn(len(makes))]
	model := vehicles[mk][rng.Intn(len(vehicles[mk]))]

	n := 1 + rng.Intn(3)
	picked := rng.Perm(len(services))[:n]
	work := make([]string, 0, n)
	for _, i := range picked {
		work = append(work, services[i])
	}

	return CreateRequest{
		Model:     mk + " " + model,
		WorkItems: work,
		Details: Details{
			Year:    strconv.Itoa(2015 + rng.Intn(10)),
			Mileage: strconv.Itoa(5000 + rng.Intn(150000)),
			Owner:   Owner{Name: owners[rng.Intn(len(owners))]},
		},
	}
}

// client talks to the tracker API.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) post(path string, body interface{}, want int) (*Record, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return nil, fmt.Errorf("%s failed with status: %d", path, resp.StatusCode)
	}
	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

func (c *client) createRecord(req CreateRequest) (*Record, error) {
	rec, err := c.post("/records", req, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"record_id":  rec.ID,
		"model":      rec.Model,
		"work_items": len(rec.WorkItems),
	}).Info("Created record")
	return rec, nil
}

func (c *client) startWork(id int64) (*Record, error) {
	return c.post(fmt.Sprintf("/records/%d/start", id), nil, http.StatusOK)
}

func (c *client) toggle(id int64, itemID string) (*Record, error) {
	return c.post(fmt.Sprintf("/records/%d/items/%s/toggle", id, itemID), nil, http.StatusOK)
}

// progress advances one random record: start it if new, otherwise finish
// one pending work item. It returns false once every record is completed.
func progress(c *client, rng *rand.Rand, records []*Record) bool {
	open := make([]int, 0, len(records))
	for i, r := range records {
		if r.Status != "completed" {
			open = append(open, i)
		}
	}
	if len(open) == 0 {
		return false
	}
	i := open[rng.Intn(len(open))]
	rec := records[i]

	var next *Record
	var err error
	if rec.Status == "new" {
		next, err = c.startWork(rec.ID)
	} else {
		for _, w := range rec.WorkItems {
			if w.Status == "pending" {
				next, err = c.toggle(rec.ID, w.ID)
				break
			}
		}
	}
	if err != nil {
		log.WithError(err).WithField("record_id", rec.ID).Error("Failed to advance record")
		return true
	}
	if next != nil {
		if next.Status != rec.Status {
			log.WithFields(log.Fields{"record_id": rec.ID, "from": rec.Status, "to": next.Status}).Info("Record advanced")
		}
		records[i] = next
	}
	return true
}

func main() {
	count := 5
	if val := os.Getenv("SEED_RECORDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			count = n
		}
	}
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	pflag.IntVarP(&count, "records", "n", count, "number of records to create")
	pflag.StringVar(&apiURL, "api", apiURL, "tracker API base URL")
	interval := pflag.Duration("interval", time.Second, "delay between progress steps; 0 creates records only")
	seed := pflag.Int64("seed", time.Now().UnixNano(), "random seed")
	pflag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	c := newClient(apiURL)

	log.WithFields(log.Fields{"records": count, "api_url": apiURL}).Info("Seeding tracker")

	records := make([]*Record, 0, count)
	for i := 0; i < count; i++ {
		rec, err := c.createRecord(randomRequest(rng))
		if err != nil {
			log.WithError(err).Error("Failed to create record")
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		log.Error("No records created. Ensure the API is reachable. Exiting.")
		os.Exit(1)
	}
	if *interval <= 0 {
		return
	}

	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for range tick.C {
		if !progress(c, rng, records) {
			break
		}
	}
	log.Info("All seeded records completed")
}
