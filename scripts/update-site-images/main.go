// update-site-images sets each site's image list to the files found under
// images/<siteId>/ in the data directory, keeping captions of images that
// are still there.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"survey-map/pkg/storage"
	"survey-map/pkg/storage/drivers"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	drivers.Ready()

	dataDir := flag.String("data-dir", getenv("DATA_DIR", "./data"), "Data directory")
	dbType := flag.String("db-type", getenv("DB_TYPE", ""), `Metadata store: "" for JSON files, sqlite, genji, duckdb or pgx`)
	dbPath := flag.String("db-path", getenv("DB_PATH", ""), "Database file for embedded engines")
	dbConn := flag.String("db-conn", getenv("DB_CONN", ""), "PostgreSQL connection string")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := storage.Open(ctx, storage.Config{DBType: *dbType, DBPath: *dbPath, DBConn: *dbConn, DataDir: *dataDir})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	n, err := storage.SyncSiteImages(ctx, st, storage.Blobs{Dir: *dataDir})
	if err != nil {
		log.Fatalf("sync site images: %v", err)
	}
	log.Printf("site images updated: %d sites", n)
}
