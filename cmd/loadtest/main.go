package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/peerchat/pkg/protocol"
)

var usernameFragments = strings.Fields(
	"amber birch cedar delta ember fjord grove harbor iris juniper kestrel " +
		"lumen meadow north onyx pine quartz ridge slate timber umber vale " +
		"willow yarrow zephyr aspen brook cliff dune elm fern glen heath")

// generateUsername combines two random fragments with a numeric suffix so
// concurrent runs rarely collide on account names.
func generateUsername() string {
	w1 := usernameFragments[rand.Intn(len(usernameFragments))]
	w2 := usernameFragments[rand.Intn(len(usernameFragments))]
	return fmt.Sprintf("%s%s%d", w1, w2, rand.Intn(10000))
}

// Stats tracks performance metrics
type Stats struct {
	commandsSent      atomic.Int64
	commandsFailed    atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64

	loginFailures  atomic.Int64
	searchFailures atomic.Int64
	timeouts       atomic.Int64
	disconnections atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.commandsSent.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordLoginFailure() {
	s.commandsFailed.Add(1)
	s.loginFailures.Add(1)
}

func (s *Stats) recordSearchFailure() {
	s.commandsFailed.Add(1)
	s.searchFailures.Add(1)
}

func (s *Stats) recordTimeout() {
	s.commandsFailed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) recordConnectionError() {
	s.connectionErrors.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.commandsFailed.Add(1)
	s.disconnections.Add(1)
}

func (s *Stats) snapshot() (sent, failed, connErrors int64, avgResponseUs float64) {
	sent = s.commandsSent.Load()
	failed = s.commandsFailed.Load()
	connErrors = s.connectionErrors.Load()

	if sent > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(sent)
	}

	return
}

// BotPeer simulates one peer: a registry session plus a UDP heartbeat
// sender, issuing SEARCH and ONLINE_USERS commands at a configurable rate.
type BotPeer struct {
	id       int
	username string
	chatPort int
	conn     net.Conn
	sc       *bufio.Scanner
	udpConn  net.Conn
	stats    *Stats

	// Usernames discovered via ONLINE_USERS, targets for SEARCH.
	known   []string
	knownMu sync.Mutex
}

func NewBotPeer(id int, registryAddr, heartbeatAddr string, stats *Stats) (*BotPeer, error) {
	conn, err := net.Dial("tcp", registryAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	udpConn, err := net.Dial("udp", heartbeatAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open heartbeat socket: %w", err)
	}

	return &BotPeer{
		id:       id,
		username: generateUsername(),
		chatPort: 20000 + id,
		conn:     conn,
		sc:       protocol.NewLineScanner(conn),
		udpConn:  udpConn,
		stats:    stats,
	}, nil
}

func (bp *BotPeer) roundTrip(line string) (string, error) {
	start := time.Now()

	if err := protocol.WriteLine(bp.conn, line); err != nil {
		if strings.Contains(err.Error(), "broken pipe") ||
			strings.Contains(err.Error(), "connection reset") ||
			strings.Contains(err.Error(), "EOF") {
			bp.stats.recordDisconnection()
		} else {
			bp.stats.commandsFailed.Add(1)
		}
		return "", err
	}

	bp.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if !bp.sc.Scan() {
		if err := bp.sc.Err(); err != nil && strings.Contains(err.Error(), "timeout") {
			bp.stats.recordTimeout()
		} else {
			bp.stats.recordDisconnection()
		}
		return "", fmt.Errorf("no response to %q", line)
	}

	bp.stats.recordSuccess(time.Since(start).Microseconds())
	return protocol.TrimLine(bp.sc.Text()), nil
}

// Setup registers an account and logs in. Existing accounts from earlier
// runs are fine; the password is fixed.
func (bp *BotPeer) Setup() error {
	resp, err := bp.roundTrip(protocol.FormatJoin(bp.username, "loadtest"))
	if err != nil {
		return err
	}
	if resp != protocol.RespJoinSuccess && resp != protocol.RespJoinExist {
		return fmt.Errorf("unexpected join response %q", resp)
	}

	resp, err = bp.roundTrip(protocol.FormatLogin(bp.username, "loadtest", bp.chatPort))
	if err != nil {
		return err
	}
	if resp != protocol.RespLoginSuccess {
		bp.stats.recordLoginFailure()
		return fmt.Errorf("login answered %q", resp)
	}
	return nil
}

func (bp *BotPeer) sendHeartbeat() {
	bp.udpConn.Write([]byte(protocol.FormatHello(bp.username)))
}

// RefreshDirectory pulls ONLINE_USERS and caches the names as search targets.
func (bp *BotPeer) RefreshDirectory() error {
	resp, err := bp.roundTrip(protocol.FormatOnlineUsers())
	if err != nil {
		return err
	}
	users, err := protocol.DecodeOnlineUsers(resp)
	if err != nil {
		return err
	}

	bp.knownMu.Lock()
	bp.known = bp.known[:0]
	for _, u := range users {
		bp.known = append(bp.known, u.Username)
	}
	bp.knownMu.Unlock()
	return nil
}

// SearchRandom looks a random known peer up, the hottest registry path.
func (bp *BotPeer) SearchRandom() error {
	bp.knownMu.Lock()
	var target string
	if len(bp.known) > 0 {
		target = bp.known[rand.Intn(len(bp.known))]
	}
	bp.knownMu.Unlock()

	if target == "" {
		return nil
	}

	resp, err := bp.roundTrip(protocol.FormatSearch(target))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, protocol.RespSearchSuccess) &&
		resp != protocol.RespSearchNotOnline &&
		resp != protocol.RespSearchNotFound {
		bp.stats.recordSearchFailure()
		return fmt.Errorf("unexpected search response %q", resp)
	}
	return nil
}

func (bp *BotPeer) Run(duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bp.conn.Close()
	defer bp.udpConn.Close()

	// Heartbeats keep the session alive for the whole run.
	heartbeatStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		bp.sendHeartbeat()
		for {
			select {
			case <-heartbeatStop:
				return
			case <-ticker.C:
				bp.sendHeartbeat()
			}
		}
	}()
	defer close(heartbeatStop)

	bp.RefreshDirectory()

	endTime := time.Now().Add(duration)
	iteration := 0

	for time.Now().Before(endTime) {
		iteration++

		bp.SearchRandom()

		// Refresh the directory every few iterations to discover
		// newly ramped-up bots.
		if iteration%5 == 0 {
			bp.RefreshDirectory()
		}

		delay := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
		time.Sleep(delay)
	}

	// Stagger shutdown to avoid thundering herd on logout
	if shutdownDelay > 0 {
		time.Sleep(shutdownDelay)
	}

	// Graceful logout; the registry closes the connection after this.
	protocol.WriteLine(bp.conn, protocol.FormatLogout(bp.username))
	time.Sleep(100 * time.Millisecond)
}

func main() {
	registryAddr := flag.String("registry", "localhost:15600", "Registry address (host:port)")
	heartbeatAddr := flag.String("heartbeat", "localhost:15500", "Registry heartbeat address (host:port)")
	numPeers := flag.Int("peers", 10, "Number of concurrent simulated peers")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between commands")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between commands")
	flag.Parse()

	// Ramp up over 25% of the test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numPeers)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Registry: %s (heartbeats to %s)", *registryAddr, *heartbeatAddr)
	log.Printf("  Peers: %d", *numPeers)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per peer)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("")

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, failed, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				rate := float64(sent) / elapsed
				log.Printf("Stats: %d commands (%.1f/s), %d failed, %d conn errors, avg %.2fms",
					sent, rate, failed, connErrors, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	for i := 0; i < *numPeers; i++ {
		wg.Add(1)

		shutdownDelay := staggerDelay * time.Duration(*numPeers-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot, err := NewBotPeer(id, *registryAddr, *heartbeatAddr, stats)
			if err != nil {
				stats.recordConnectionError()
				return
			}

			if err := bot.Setup(); err != nil {
				stats.recordConnectionError()
				return
			}

			if id%100 == 0 {
				log.Printf("[Peer %d] %s logged in", id, bot.username)
			}

			bot.Run(*duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		time.Sleep(staggerDelay)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("\nShutdown signal received, stopping test...")
		stopOnce.Do(func() { close(stopStats) })
	}()

	wg.Wait()
	stopOnce.Do(func() { close(stopStats) })

	sent, failed, connErrors, avgUs := stats.snapshot()
	rate := float64(sent) / duration.Seconds()

	loginFails := stats.loginFailures.Load()
	searchFails := stats.searchFailures.Load()
	timeouts := stats.timeouts.Load()
	disconnects := stats.disconnections.Load()

	log.Printf("\n=== Final Results ===")
	log.Printf("Duration: %v", *duration)
	log.Printf("Commands: %d (%.1f/s)", sent, rate)
	log.Printf("Failed: %d", failed)
	log.Printf("  - Login failures: %d", loginFails)
	log.Printf("  - Search failures: %d", searchFails)
	log.Printf("  - Timeouts: %d", timeouts)
	log.Printf("  - Disconnections: %d", disconnects)
	log.Printf("Connection errors: %d", connErrors)
	log.Printf("Average response time: %.2fms", avgUs/1000.0)

	if sent > 0 {
		successRate := float64(sent) / float64(sent+failed) * 100
		log.Printf("Success rate: %.1f%%", successRate)
	}
}
