package main

import (
	"context"
	"log"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"civichub/config"
	"civichub/pkg/api"
	"civichub/pkg/app"
	"civichub/pkg/repository"
	"civichub/pkg/tasks"
)

func init() {
	err := godotenv.Load(".env")
	if err != nil {
		log.Fatalln("Error loading .env file")
	}
}

func main() {
	ctx := context.Background()

	db, err := config.SetupDatabase(ctx)
	if err != nil {
		log.Printf("Unable to connect to database: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to database")

	defer db.Close()

	firebaseApp := config.SetupFirebase()

	firestoreClient, err := firebaseApp.Firestore(ctx)
	if err != nil {
		log.Fatalln(err)
	}

	redisClient, err := config.SetupRedis()
	if err != nil {
		log.Fatalln(err)
	}
	defer redisClient.Close()

	queueOpt, err := config.SetupQueueOptions()
	if err != nil {
		log.Fatalln(err)
	}
	queueClient := asynq.NewClient(queueOpt)
	defer queueClient.Close()

	storage := repository.NewStorage(firestoreClient)
	ephemeral := repository.NewRedisStore(redisClient)
	directory := repository.NewDirectory(db)

	var files api.FileResolver
	if bucket := os.Getenv("ATTACHMENT_BUCKET"); bucket != "" {
		gcsClient, err := gcs.NewClient(ctx)
		if err != nil {
			log.Fatalln(err)
		}
		files = repository.NewFileStore(gcsClient, bucket)
	} else {
		log.Println("ATTACHMENT_BUCKET not set, attachment URLs disabled")
	}

	hub := api.NewHub()
	go hub.Run()

	policy := api.NewRolePolicy()

	auditService := api.NewAuditService(storage, policy)

	services := api.Services{
		Conversations: api.NewConversationService(storage, policy, auditService, hub),
		Messages:      api.NewMessageService(storage, storage, files, hub),
		Presence:      api.NewPresenceService(ephemeral, api.OnlineThreshold, hub),
		Typing:        api.NewTypingService(ephemeral, api.TypingWindow, hub),
		Notifications: api.NewNotificationService(storage, hub),
		Broadcasts:    api.NewBroadcastService(storage, tasks.NewEnqueuer(queueClient), policy, auditService),
		Alerts:        api.NewAlertService(storage, policy, auditService, hub),
		Audit:         auditService,
		Policy:        policy,
	}

	worker := tasks.NewWorker(services.Notifications, services.Conversations, directory, 0)
	go func() {
		if err := tasks.Run(ctx, queueOpt, worker); err != nil {
			log.Fatalln(err)
		}
	}()
	go func() {
		if err := tasks.RunScheduler(ctx, queueOpt); err != nil {
			log.Fatalln(err)
		}
	}()

	router := chi.NewRouter()

	server := app.NewServer(router, services, hub)

	if err = server.Run(); err != nil {
		log.Println(err)
	}
}
