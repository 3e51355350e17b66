package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	boardTable := os.Getenv("BOARD_TABLE")
	eventsQueue := os.Getenv("EVENTS_QUEUE")
	if connStr == "" || boardTable == "" || eventsQueue == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING, BOARD_TABLE or EVENTS_QUEUE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.WithFields(log.Fields{"table": boardTable, "queue": eventsQueue}).Info("provisioning board storage")
	if err := createTable(ctx, connStr, boardTable); err != nil {
		log.Fatalf("create table %s: %v", boardTable, err)
	}
	if err := createQueue(ctx, connStr, eventsQueue); err != nil {
		log.Fatalf("create queue %s: %v", eventsQueue, err)
	}
	log.Info("board storage ready")
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
		if !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Debug("table already exists")
	}
	return nil
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil {
		if !hasErrorCode(err, queueAlreadyExists) {
			return err
		}
		log.WithField("queue", name).Debug("queue already exists")
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
