package main

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"pretalx-rt-sync/auth"
	"pretalx-rt-sync/config"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/events"
	"pretalx-rt-sync/export"
	"pretalx-rt-sync/host"
	syncpkg "pretalx-rt-sync/sync"
	"pretalx-rt-sync/utils"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	port := getEnv("PORT", "8080")
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	dataPath := getEnv("DATA_PATH", "data/store.json")

	db, err := database.NewAdapter(dataPath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	utils.LogInfo("DATABASE_READY", map[string]interface{}{
		"backend": db.Backend(),
	})

	directory := host.NewMemory()

	configService := config.NewService(db)
	authService := auth.NewService(db, jwtSecret)

	wsManager := syncpkg.NewWebSocketManager()
	go wsManager.Run()

	engine := syncpkg.NewEngine(db, configService, directory, wsManager)
	tasks := syncpkg.NewTaskRunner(engine, wsManager, 64)
	engine.SetTasks(tasks)
	tasks.Start()
	defer tasks.Stop()

	scheduler := syncpkg.NewScheduler(db, engine, wsManager)
	if interval, err := strconv.Atoi(getEnv("SCHEDULE_INTERVAL_SECONDS", "0")); err == nil && interval > 0 {
		if err := scheduler.Start(interval); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
	}

	dispatcher := events.NewDispatcher()
	events.RegisterSyncHandlers(dispatcher, engine, db, configService, tasks)

	router := mux.NewRouter()

	auth.NewHandler(authService).RegisterRoutes(router)
	config.NewHandler(configService).RegisterRoutes(router, authService)
	syncpkg.NewHandler(db, engine, scheduler, tasks).RegisterRoutes(router, authService)
	export.NewHandler(db).RegisterRoutes(router, authService)
	events.NewHandler(dispatcher, directory).RegisterRoutes(router, authService)

	router.HandleFunc("/ws", wsManager.HandleWebSocket)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.SendSuccess(w, map[string]interface{}{
			"status":  "healthy",
			"backend": db.Backend(),
		}, "Service is healthy")
	}).Methods("GET")

	utils.LogInfo("SERVER_STARTING", map[string]interface{}{
		"port": port,
	})
	if err := http.ListenAndServe(":"+port, utils.CORSMiddleware(router)); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
