package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"cyborg-chat-be/internal/bootstrap"
	"cyborg-chat-be/internal/config"
	"cyborg-chat-be/internal/entity"
	"cyborg-chat-be/internal/repository/specification"
	"cyborg-chat-be/pkg/database"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

func main() {
	sessionFlag := flag.String("session", "", "session id to inspect")
	query := flag.String("query", "", "optional question to run through retrieval")
	flag.Parse()

	sessionID, err := uuid.Parse(*sessionFlag)
	if err != nil {
		log.Fatal("Usage: rag_diagnostic -session <uuid> [-query <text>]")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{})
	if err != nil {
		log.Fatal("Failed to connect to DB:", err)
	}
	container := bootstrap.NewContainer(db, cfg)
	defer container.Close()

	ctx := context.Background()
	uow := container.UnitOfWork.NewUnitOfWork(ctx)

	color.Cyan(strings.Repeat("=", 80))
	color.Cyan("RAG DIAGNOSTIC  session %s", sessionID)
	color.Cyan(strings.Repeat("=", 80))

	session, err := uow.SessionRepository().FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		log.Fatal("Failed to load session:", err)
	}
	if session == nil {
		color.Red("Session not found")
		return
	}
	fmt.Printf("Title: %s  Owner: %s\n", session.Title, session.UserId)

	hasIndex, err := container.VectorStore.HasIndex(ctx, sessionID)
	switch {
	case err != nil:
		color.Red("Index probe failed: %v", err)
	case hasIndex:
		color.Green("Index: present")
	default:
		color.Yellow("Index: missing")
	}

	attachments, err := uow.AttachmentRepository().FindAll(ctx, specification.BySessionID{SessionID: sessionID})
	if err != nil {
		log.Fatal("Failed to load attachments:", err)
	}

	color.Yellow("\nAttachments (%d)", len(attachments))
	ids := make([]uuid.UUID, 0, len(attachments))
	for _, a := range attachments {
		count, err := uow.ChunkDataRepository().Count(ctx, specification.ByAttachmentID{AttachmentID: a.Id})
		if err != nil {
			color.Red("  %s: chunk count failed: %v", a.Filename, err)
			continue
		}

		line := fmt.Sprintf("  %-40s %-10s rows=%d", a.Filename, a.State.Status(), count)
		switch st := a.State.(type) {
		case entity.Processed:
			if int64(st.ChunkCount) != count {
				color.Red("%s (expected %d)", line, st.ChunkCount)
			} else {
				color.Green("%s", line)
			}
			ids = append(ids, a.Id)
		case entity.Failed:
			color.Red("%s error=%q", line, st.Error)
		default:
			fmt.Println(line)
		}
	}

	if *query == "" {
		return
	}

	policy := container.Retrieval.Policy()
	color.Yellow("\nRetrieval for %q over %d processed attachments (topK=%d)", *query, len(ids), policy.TotalTopK(len(ids)))
	chunks, err := container.Retrieval.GetContext(ctx, sessionID, *query, ids)
	if err != nil {
		color.Red("GetContext failed: %v", err)
		return
	}
	if len(chunks) == 0 {
		color.Yellow("  no context")
	}
	for i, c := range chunks {
		preview := strings.Join(strings.Fields(c.Content), " ")
		if r := []rune(preview); len(r) > 100 {
			preview = string(r[:100]) + "..."
		}
		color.Green("  [%d] %.4f  %s #%d", i+1, c.Score, c.Filename, c.ChunkIndex)
		fmt.Printf("      %s\n", preview)
	}
}
