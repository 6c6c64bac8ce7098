// czdsmock — локальная имитация CZDS API для ручной проверки клиента:
// выдает токены, отдает список зон, сами зоны в gzip и CSV-отчет.
// Токен живет tokenTTL, после чего сервер начинает отвечать 401,
// что позволяет проверить повторную аутентификацию.
package main

import (
	"compress/gzip"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	serverPort = ":8083"
	tokenTTL   = 1 * time.Minute
)

var mockZones = []string{"com", "net", "org", "dev", "example"}

var (
	tokenMutex sync.Mutex
	tokens     = make(map[string]time.Time) // token -> время выдачи
)

func main() {
	http.HandleFunc("/api/authenticate", handleAuthenticate)
	http.HandleFunc("/czds/downloads/links", withAuth(handleLinks))
	http.HandleFunc("/czds/downloads/", withAuth(handleZone))
	http.HandleFunc("/czds/requests/report", withAuth(handleReport))

	log.Println("mock CZDS API started on", serverPort)
	log.Fatal(http.ListenAndServe(serverPort, nil))
}

func handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	b := make([]byte, 16)
	rand.Read(b)
	token := hex.EncodeToString(b)

	tokenMutex.Lock()
	tokens[token] = time.Now()
	tokenMutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"accessToken": token})
}

// withAuth проверяет bearer-токен и его возраст.
func withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		tokenMutex.Lock()
		issued, ok := tokens[token]
		tokenMutex.Unlock()

		if !ok || time.Since(issued) > tokenTTL {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func handleLinks(w http.ResponseWriter, r *http.Request) {
	links := make([]string, len(mockZones))
	for i, zone := range mockZones {
		links[i] = "http://localhost" + serverPort + "/czds/downloads/" + zone + ".zone"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(links)
}

func handleZone(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ".zone")

	w.Header().Set("Content-Type", "application/x-gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt.gz"))

	gz := gzip.NewWriter(w)
	defer gz.Close()
	for i := range 100 {
		fmt.Fprintf(gz, "host%d.%s.\t86400\tin\tns\tns1.%s.example.\n", i, name, name)
	}
}

func handleReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprintln(w, "Username,TLD,Status,Last Updated,Reason,Expire Date")
	for i, zone := range mockZones {
		status := "approved"
		if i%3 == 1 {
			status = "pending"
		}
		fmt.Fprintf(w, "user@example.com,%s,%s,2026-01-0%d,,2027-01-0%d\n", zone, status, i+1, i+1)
	}
}
