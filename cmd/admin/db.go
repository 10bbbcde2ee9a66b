package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	puzzleID := fs.String("puzzle", "", "puzzle id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	kind := fs.String("kind", "", "kind filter (steps)")
	movedOnly := fs.Bool("moved", false, "only steps that moved the agent (steps)")
	_ = fs.Parse(args)

	q := "saves"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*puzzleID) == "" {
			fmt.Fprintln(os.Stderr, "missing -puzzle or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "puzzles", *puzzleID, "index", "puzzle.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "saves":
		rows, err := db.Query(`SELECT puzzle_id,step,path,gadgets,defs,catalog_digest,created_at FROM saves ORDER BY step DESC, id DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				PuzzleID      string `json:"puzzle_id"`
				Step          int64  `json:"step"`
				Path          string `json:"path"`
				Gadgets       int    `json:"gadgets"`
				Defs          int    `json:"defs"`
				CatalogDigest string `json:"catalog_digest"`
				CreatedAt     string `json:"created_at"`
			}
			if err := rows.Scan(&r.PuzzleID, &r.Step, &r.Path, &r.Gadgets, &r.Defs, &r.CatalogDigest, &r.CreatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "steps":
		query := `SELECT puzzle_id,step,kind,ok,moved,raw_json FROM steps WHERE 1=1`
		var qargs []any
		if k := strings.TrimSpace(*kind); k != "" {
			query += ` AND kind=?`
			qargs = append(qargs, strings.ToUpper(k))
		}
		if *movedOnly {
			query += ` AND moved=1`
		}
		query += ` ORDER BY step DESC LIMIT ?`
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				PuzzleID string `json:"puzzle_id"`
				Step     int64  `json:"step"`
				Kind     string `json:"kind"`
				OK       bool   `json:"ok"`
				Moved    bool   `json:"moved"`
				RawJSON  string `json:"raw_json"`
			}
			if err := rows.Scan(&r.PuzzleID, &r.Step, &r.Kind, &r.OK, &r.Moved, &r.RawJSON); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want saves|steps|catalogs)")
		os.Exit(2)
	}
}
