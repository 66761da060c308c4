package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/config"
	"github.com/clinicbook/scheduling-core/internal/db"
	"github.com/clinicbook/scheduling-core/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	doctors := flag.Int("doctors", 100, "number of doctors to create")
	patients := flag.Int("patients", 9000, "number of patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New("seed", "info", "prod").Fatal().Err(err).Msg("config load error")
	}
	log := logger.New("seed", cfg.LogLevel, cfg.Env)
	log.Info().Int("doctors", *doctors).Int("patients", *patients).Msg("seed starting")

	ctx := context.Background()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(ctx, pool, *doctors, log); err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, *patients, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

// seedDoctors creates doctors with a weekday schedule of hourly templates. Each doctor works a
// morning block and, most of the time, an afternoon block.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	templates := 0
	for i := 0; i < count; i++ {
		id := uuid.New()
		batch.Queue(`
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)])

		morningStart := gofakeit.Number(7, 9)
		hours := hourRange(morningStart, morningStart+3)
		if gofakeit.Float64() < 0.8 {
			hours = append(hours, hourRange(13, 13+gofakeit.Number(2, 4))...)
		}

		for day := availability.Monday; day <= availability.Friday; day++ {
			for _, h := range hours {
				batch.Queue(`
					INSERT INTO doctor_time_slots (id, doctor_id, day_of_week, start_minute, end_minute)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (doctor_id, day_of_week, start_minute, end_minute) DO NOTHING
				`, uuid.New(), id, int(day), int(availability.NewTimeOfDay(h, 0)), int(availability.NewTimeOfDay(h+1, 0)))
				templates++
			}
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert doctors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Info().Int("doctors", count).Int("templates", templates).Msg("doctors seeded")
	return nil
}

func hourRange(from, to int) []int {
	out := make([]int, 0, to-from)
	for h := from; h < to; h++ {
		out = append(out, h)
	}
	return out
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), gofakeit.Name(), gofakeit.Email()})
		}

		if _, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy patients: %w", err)
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}
