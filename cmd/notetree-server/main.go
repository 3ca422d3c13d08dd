// Command notetree-server is the main server process that answers all client
// requests and sequences mutations to the note trees.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/proofbuf/notetree/db"
	"github.com/proofbuf/notetree/events"
	"github.com/proofbuf/notetree/notes"
)

var (
	configFile = flag.String("config", "", "Location of config file.")
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.LUTC)
	flag.Parse()

	// Load config from disk.
	if *configFile == "" {
		log.Fatalf("No config file provided, see --help.")
	}
	config, err := ReadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	// Start the sequencer thread.
	store, err := db.NewLDBTreeStore(config.DatabaseFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	stream := events.NewChannelEmitter()
	emitter := events.MultiEmitter{events.LogEmitter{}, stream}
	ch := make(chan MutateRequest)

	go sequencer(notes.NewService(config.programID, store, emitter), ch)

	// Start the metrics server if configured.
	if config.MetricsAddr != "" {
		go metrics(config.MetricsAddr)
	}

	// Setup handler for the API server.
	h := &Handler{
		config: config,
		svc:    notes.NewService(config.programID, store.Clone(), emitter),
		ch:     ch,
		stream: stream,
	}
	r := mux.NewRouter()
	r.HandleFunc("/", h.Home)
	r.HandleFunc("/v1/tree", HandleAPI(h.CreateTree)).Methods("POST")
	r.HandleFunc("/v1/tree/{tree:[0-9a-f]{64}}", HandleAPI(h.GetTree)).Methods("GET")
	r.HandleFunc("/v1/tree/{tree:[0-9a-f]{64}}/notes", HandleAPI(h.AppendNote)).Methods("POST")
	r.HandleFunc("/v1/tree/{tree:[0-9a-f]{64}}/leaves/{index:[0-9]+}", HandleAPI(h.ReplaceNote)).Methods("POST")
	r.HandleFunc("/v1/events", h.Events)

	// Setup the API server. No global write timeout: the events endpoint
	// holds its connection open and sets per-message deadlines instead.
	srv := &http.Server{
		Addr:      config.ServerAddr,
		Handler:   r,
		TLSConfig: config.tlsConfig,

		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	log.Println("Starting API server.")
	if config.TLSConfig == nil {
		log.Fatal(srv.ListenAndServe())
	} else {
		log.Fatal(srv.ListenAndServeTLS("", ""))
	}
}
