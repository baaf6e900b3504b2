//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	"github.com/ZanzyTHEbar/deck-agent/dagent/db"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness/adapters"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeLibSQL checks the embedded libsql features the durable store and
// mailbox depend on, against a throwaway database file.
func RunSmokeLibSQL(path string) {
	fmt.Println("Smoke test: LibSQL durable state")
	defer os.Remove(path)
	ctx := context.Background()
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	dbconn, err := db.ConnectToDB(ctx, path, logger)
	must(err, "connect")
	defer dbconn.Close()

	var v int
	must(dbconn.QueryRowContext(ctx, "SELECT 1").Scan(&v), "basic SELECT")
	if v != 1 {
		log.Fatalf("basic SELECT returned %v", v)
	}
	fmt.Println("OK: basic SQL")

	var jsonRes string
	must(dbconn.QueryRowContext(ctx, `SELECT json_extract('{"role":"user"}', '$.role')`).Scan(&jsonRes), "JSON1 query")
	if jsonRes != "user" {
		log.Fatalf("JSON1 returned unexpected: %v", jsonRes)
	}
	fmt.Println("OK: JSON1")

	must(db.Migrate(ctx, dbconn, logger), "migrate")
	fmt.Println("OK: migrations")

	// INSERT ... RETURNING backs mailbox sequence numbers
	mailbox := adapters.NewLibSQLMailbox(dbconn, 50*time.Millisecond, logger)
	seq, err := mailbox.Enqueue(ctx, "smoke", conversation.Signal{Query: "ping"})
	must(err, "enqueue")
	env, err := mailbox.Next(ctx, "smoke", 0)
	must(err, "next")
	if env.Seq != seq || env.Signal.Query != "ping" {
		log.Fatalf("mailbox returned %+v, want seq %d", env, seq)
	}
	must(mailbox.Ack(ctx, "smoke", seq), "ack")
	fmt.Println("OK: mailbox round trip, seq", seq)

	store := adapters.NewLibSQLStateStore(dbconn)
	cp := ports.Checkpoint{
		ConversationID: "smoke",
		Phase:          ports.PhaseIdle,
		Turns: []conversation.Turn{
			{Role: conversation.RoleSystem, Content: "system"},
			conversation.UserTurn("ping"),
			conversation.AssistantTurn("pong"),
		},
		LastSignalSeq: seq,
		UpdatedAt:     time.Now().UTC(),
	}
	must(store.Save(ctx, cp), "save checkpoint")
	loaded, err := store.Load(ctx, "smoke")
	must(err, "load checkpoint")
	if len(loaded.Turns) != 3 || loaded.LastSignalSeq != seq {
		log.Fatalf("checkpoint mismatch: %+v", loaded)
	}
	fmt.Println("OK: checkpoint round trip")

	fmt.Println("Smoke checks completed.")
}
