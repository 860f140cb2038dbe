package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/elevation.map/internal/config"
	"github.com/banshee-data/elevation.map/internal/db"
	"github.com/banshee-data/elevation.map/internal/elevation"
	"github.com/banshee-data/elevation.map/internal/frames"
	"github.com/banshee-data/elevation.map/internal/monitor"
	"github.com/banshee-data/elevation.map/internal/monitoring"
	"github.com/banshee-data/elevation.map/internal/network"
	"github.com/banshee-data/elevation.map/internal/pointcloud"
	"github.com/banshee-data/elevation.map/internal/publish"
	"github.com/banshee-data/elevation.map/internal/timeutil"
	"github.com/banshee-data/elevation.map/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a mapping config JSON file (default: built-in defaults)")
	listen      = flag.String("listen", ":8082", "HTTP listen address")
	udpAddr     = flag.String("udp-addr", "", "UDP listen address for point clouds (default: point_cloud_addr from config)")
	grpcAddr    = flag.String("grpc-addr", publish.DefaultConfig().ListenAddr, "gRPC listen address for map subscribers")
	maxClients  = flag.Int("max-clients", publish.DefaultConfig().MaxClients, "Maximum concurrent map subscribers")
	pcapFile    = flag.String("pcap", "", "Replay point clouds from a pcap/pcapng file instead of listening on UDP")
	pcapPort    = flag.Int("pcap-port", 0, "Only replay UDP packets sent to this port (0: any)")
	pcapSpeed   = flag.Float64("pcap-speed", 1.0, "Replay speed multiplier (0: as fast as possible)")
	dbFile      = flag.String("db", "elevation_map.db", "Path to the SQLite event database (empty disables persistence)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Duration("log-interval", 10*time.Second, "Statistics logging interval")
	debug       = flag.Bool("debug", false, "Enable per-batch debug logging")
	showVersion = flag.Bool("version", false, "Print the build version and exit")
)

func loadConfig() *config.MappingConfig {
	if *configPath == "" {
		return config.DefaultMappingConfig()
	}
	mc, err := config.LoadMappingConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return mc
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	monitoring.SetDebug(*debug)
	log.Printf("elevation-map %s", version.Get())

	mc := loadConfig()
	cfg, err := elevation.ConfigFromMapping(mc)
	if err != nil {
		log.Fatalf("invalid mapping config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buf := frames.NewBuffer(frames.DefaultCacheDuration)
	pose := mc.GetSensorPose()
	if err := buf.SendTransform(frames.StampedTransform{
		Transform:   frames.FromEuler(pose.X, pose.Y, pose.Z, pose.Roll, pose.Pitch, pose.Yaw),
		ParentFrame: cfg.ParentFrameID,
		ChildFrame:  mc.GetSensorFrameID(),
		Static:      true,
	}); err != nil {
		log.Fatalf("invalid sensor pose: %v", err)
	}

	var recorder elevation.EventRecorder
	var events monitor.EventStore
	if *dbFile != "" {
		database, err := db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		recorder, events = database, database
	}

	pubCfg := publish.DefaultConfig()
	pubCfg.ListenAddr = *grpcAddr
	pubCfg.MaxClients = *maxClients
	publisher := publish.NewPublisher(pubCfg)
	if err := publisher.Start(); err != nil {
		log.Fatalf("failed to start map publisher: %v", err)
	}
	defer publisher.Stop()

	m, err := elevation.NewMap(cfg, elevation.Options{
		Broadcaster: buf,
		Lookup:      buf,
		Publisher:   publisher,
		Recorder:    recorder,
		Clock:       timeutil.RealClock{},
	})
	if err != nil {
		log.Fatalf("failed to create elevation map: %v", err)
	}
	if err := m.Initialize(); err != nil {
		log.Fatalf("failed to initialize elevation map: %v", err)
	}

	packetStats := network.NewPacketStats()
	handleCloud := func(ctx context.Context, cloud *pointcloud.Cloud) error {
		_, err := m.AddPointCloud(ctx, cloud)
		return err
	}

	ws, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address:   *listen,
		Map:       m,
		Frames:    buf,
		Packets:   packetStats,
		Publisher: publisher,
		Events:    events,
	})
	if err != nil {
		log.Fatalf("failed to create web server: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		wd := elevation.NewWatchdog(m, elevation.WatchdogConfig{})
		if err := wd.Run(ctx); err != nil {
			log.Printf("watchdog stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if *pcapFile != "" {
			res, err := network.ReplayPCAP(ctx, network.PCAPReplayConfig{
				Path:    *pcapFile,
				Port:    *pcapPort,
				Speed:   *pcapSpeed,
				Stats:   packetStats,
				Handler: handleCloud,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pcap replay failed: %v", err)
			}
			log.Printf("pcap replay finished: %d clouds, %d malformed, %d abandoned", res.Clouds, res.Malformed, res.Failed)
			return
		}

		addr := *udpAddr
		if addr == "" {
			addr = mc.GetPointCloudAddr()
		}
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     addr,
			RcvBuf:      *rcvBuf,
			LogInterval: *logInterval,
			Stats:       packetStats,
			Handler:     handleCloud,
		})
		if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP listener failed: %v", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server failed: %v", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(*logInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Stats().LogStats()
			}
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	wg.Wait()
	m.Stats().LogStats()
	log.Printf("Graceful shutdown complete")
}
