package main

import (
	"context"
	"fmt"

	"stagehand/internal/history"
)

func historyList(ctx context.Context, db string, limit int) error {
	store, err := history.Open(db)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Print(renderHistory(recs))
	return nil
}

func historyShow(ctx context.Context, db, id string) error {
	store, err := history.Open(db)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Print(renderRecord(rec))
	return nil
}

func historyVerify(ctx context.Context, db string) error {
	store, err := history.Open(db)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Verify(ctx); err != nil {
		return err
	}
	fmt.Println("history chain ok")
	return nil
}
