package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"boardsync/core"
	"boardsync/handlers/api/boards"
	"boardsync/handlers/websocket"
	"boardsync/middleware"
	"boardsync/stores"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(store core.BoardStore, auth *middleware.Authenticator, hub *websocket.Hub) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.AuthJWT)

		r.Route("/projects/{project_id}/board", func(r chi.Router) {
			r.With(middleware.RequireProjectAccess(false)).Get("/", boards.HandleGetOrCreate(store))
			r.With(middleware.RequireProjectAccess(true)).Put("/", boards.HandleSave(store))
		})

		// The beacon carries its project id in the body; the handler
		// checks write access itself.
		r.Post("/beacon", boards.HandleBeacon(store))
	})

	r.Route("/ws/projects/{project_id}", func(r chi.Router) {
		r.Use(auth.AuthJWT)
		r.Use(middleware.RequireProjectAccess(false))
		r.Get("/", websocket.ServeWS(hub))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return r
}

func waitForShutdown() {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	fmt.Println("Shutting down...")
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logrus.Fatal("JWT_SECRET environment variable must be set")
	}
	auth := middleware.NewAuthenticator([]byte(jwtSecret))

	store := stores.GetStore()
	hub := websocket.NewHub()

	r := setupRouter(store, auth, hub)

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown()
}
