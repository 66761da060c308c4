package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/config"
	"github.com/clinicbook/scheduling-core/internal/db"
	"github.com/clinicbook/scheduling-core/internal/logger"
	redisclient "github.com/clinicbook/scheduling-core/internal/redis"
)

var visitReasons = []string{"Checkup", "Follow-up", "Prescription renewal", "Lab results", "Consultation"}

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	TupleLimit   int
	WatchEvents  bool
}

// tuple is one contended (doctor, date, time) target.
type tuple struct {
	DoctorID uuid.UUID
	Date     time.Time
	Time     availability.TimeOfDay
}

func (t tuple) key() string {
	return t.DoctorID.String() + "/" + t.Date.Format(availability.DateLayout) + "/" + t.Time.String()
}

type booked struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Tuples   []tuple

	mu      sync.Mutex
	booked  []booked
	winners map[string]int
}

func (dp *DataPool) AddBooking(t tuple, b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
	dp.winners[t.key()]++
}

func (dp *DataPool) TakeBooking(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	idx := rng.IntN(len(dp.booked))
	b := dp.booked[idx]
	dp.booked = slices.Delete(dp.booked, idx, idx+1)
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ResolveSlots  OperationMetrics
	ListByPatient OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger

	bookedEvents atomic.Int64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logger.New("simulate", "info", "prod").Fatal().Err(err).Msg("config load error")
	}
	log := logger.New("simulate", baseCfg.LogLevel, baseCfg.Env)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	clock := availability.NewClock(baseCfg.Location)
	dataPool, err := loadDataPool(ctx, pgPool, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("tuples", len(dataPool.Tuples)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if cfg.WatchEvents {
		stopWatch := sim.watchEvents(baseCfg)
		defer stopWatch()
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		TupleLimit:   getInt("SIM_TUPLE_LIMIT", 50),
		WatchEvents:  getEnv("SIM_WATCH_EVENTS", "false") == "true",
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.TupleLimit <= 0 {
		return fmt.Errorf("SIM_TUPLE_LIMIT must be > 0")
	}
	return nil
}

// loadDataPool picks patients and a small set of template start times, each pinned to the next
// date (from tomorrow on) that falls on the template's weekday. Keeping the set small makes
// workers collide on the same tuples.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, clock availability.Clock) (*DataPool, error) {
	dataPool := &DataPool{winners: make(map[string]int)}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Patients, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT doctor_id, day_of_week, start_minute
		FROM doctor_time_slots
		WHERE enabled
		ORDER BY random()
		LIMIT $1
	`, cfg.TupleLimit)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	tomorrow := clock.Today().AddDate(0, 0, 1)
	dataPool.Tuples, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (tuple, error) {
		var (
			t      tuple
			day    int
			minute int
		)
		if err := row.Scan(&t.DoctorID, &day, &minute); err != nil {
			return t, err
		}
		t.Time = availability.TimeOfDay(minute)
		t.Date = nextOn(tomorrow, availability.Weekday(day))
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Tuples) == 0 {
		return nil, fmt.Errorf("no templates loaded")
	}

	return dataPool, nil
}

func nextOn(from time.Time, day availability.Weekday) time.Time {
	d := from
	for availability.WeekdayOf(d) != day {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// watchEvents counts APPOINTMENT_BOOKED events from the broker for the report.
func (s *Simulator) watchEvents(cfg config.Config) func() {
	ctx, cancel := context.WithCancel(context.Background())

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		s.log.Warn().Err(err).Msg("event watch disabled")
		return cancel
	}

	events, err := redisclient.Subscribe(ctx, rdb, cfg.EventChannel)
	if err != nil {
		s.log.Warn().Err(err).Msg("event watch disabled")
		_ = rdb.Close()
		return cancel
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type == appointment.EventAppointmentBooked {
				s.bookedEvents.Add(1)
			}
		}
	}()

	return func() {
		cancel()
		<-done
		_ = rdb.Close()
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case rng.IntN(2) == 0:
			s.doResolveSlots(ctx, rng)
		default:
			s.doListByPatient(ctx, rng)
		}
	}
}

func (s *Simulator) newRequest(ctx context.Context, method, path string, actor uuid.UUID, role string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != uuid.Nil {
		req.Header.Set("X-Actor-ID", actor.String())
		req.Header.Set("X-Actor-Role", role)
	}
	return req
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Tuples[rng.IntN(len(s.pool.Tuples))]
	patientID := s.pool.Patients[rng.IntN(len(s.pool.Patients))]

	req := s.newRequest(ctx, http.MethodPost, "/appointments", patientID, "patient", map[string]string{
		"doctor_id": t.DoctorID.String(),
		"date":      t.Date.Format(availability.DateLayout),
		"time":      t.Time.String(),
		"reason":    gofakeit.RandomString(visitReasons),
	})

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
				s.pool.AddBooking(t, booked{ID: appt.ID, PatientID: patientID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	if ctx.Err() == nil || err == nil {
		s.metrics.Booking.Record(latency, success, conflict)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	req := s.newRequest(ctx, http.MethodDelete, "/appointments/"+b.ID.String(), b.PatientID, "patient", nil)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doResolveSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Tuples[rng.IntN(len(s.pool.Tuples))]

	req := s.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/availability/%s/%s", t.DoctorID, t.Date.Format(availability.DateLayout)), uuid.Nil, "", nil)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ResolveSlots.Record(latency, success, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.IntN(len(s.pool.Patients))]

	req := s.newRequest(ctx, http.MethodGet, "/appointments?patientId="+patientID.String(), patientID, "patient", nil)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByPatient.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended tuples: %d\n", len(s.pool.Tuples))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Resolve slots", &s.metrics.ResolveSlots)
	printOperationReport("List by patient", &s.metrics.ListByPatient)

	// A tuple can be won again after a cancel, so compare wins against cancels.
	wins := 0
	for _, n := range s.pool.winners {
		wins += n
	}
	cancels := int(atomic.LoadInt64(&s.metrics.Cancel.Success))
	fmt.Printf("Tuples booked: %d, wins: %d, successful cancels: %d\n", len(s.pool.winners), wins, cancels)
	if wins > len(s.pool.winners)+cancels {
		fmt.Println("WARNING: more wins than the tuples and cancels allow, double booking suspected")
	}
	if s.config.WatchEvents {
		fmt.Printf("APPOINTMENT_BOOKED events received: %d\n", s.bookedEvents.Load())
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
