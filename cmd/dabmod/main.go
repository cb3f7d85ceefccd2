// Command dabmod is the DAB modulator's real-time output process: it
// wires an ETI frame source through GainControl, the Predistorter and
// the FrameQueue to a Transmitter driving one SDR backend, alongside
// the FeedbackServer, the clock supervisor, Prometheus metrics, an MCP
// remote-control surface, and an optional MQTT status publisher.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwsl/dabmod/clocksync"
	"github.com/cwsl/dabmod/etisource"
	"github.com/cwsl/dabmod/feedback"
	"github.com/cwsl/dabmod/fileout"
	"github.com/cwsl/dabmod/framequeue"
	"github.com/cwsl/dabmod/gain"
	"github.com/cwsl/dabmod/metrics"
	"github.com/cwsl/dabmod/predistort"
	"github.com/cwsl/dabmod/remotecontrol"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
	"github.com/cwsl/dabmod/transmit"
	"github.com/cwsl/dabmod/udpsdr"
)

func main() {
	configPath := flag.String("config", "dabmod.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("dabmod: %v", err)
	}

	if err := checkMinimumFirmware(cfg.Device.DeviceArgs, cfg.Device.MinFirmwareVersion); err != nil {
		log.Fatalf("dabmod: %v", err)
	}

	device, err := openDevice(cfg)
	if err != nil {
		log.Fatalf("dabmod: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deviceCfg := cfg.deviceConfig()
	if err := deviceCfg.Validate(); err != nil {
		log.Fatalf("dabmod: %v", err)
	}

	if err := device.Configure(ctx, deviceCfg); err != nil {
		log.Fatalf("dabmod: device configure: %v", err)
	}

	achievedMasterClock, achievedSampleRate := device.AchievedRates()
	if err := sdr.CheckAchievedRate("master_clock_rate", deviceCfg.MasterClockRate, achievedMasterClock); err != nil {
		log.Fatalf("dabmod: %v", err)
	}
	if err := sdr.CheckAchievedRate("tx_rate", deviceCfg.SampleRate, achievedSampleRate); err != nil {
		log.Fatalf("dabmod: %v", err)
	}

	reg := prometheus.NewRegistry()
	counters := metrics.New(reg)

	gainCtl := gain.New(cfg.gainConfig())
	predistorter := predistort.New(cfg.Predistorter.NumWorkers)
	defer predistorter.Close()
	if cfg.Predistorter.Coeffile != "" {
		if err := predistorter.LoadCoefficients(cfg.Predistorter.Coeffile); err != nil {
			log.Fatalf("dabmod: load predistortion coefficients: %v", err)
		}
	}

	queue := framequeue.New()

	txCfg := transmit.Config{
		Device:              cfg.deviceConfig(),
		MuteNoTimestamps:    cfg.Transmit.MuteNoTimestamps,
		RefClockMonitored:   cfg.Transmit.RefClockMonitored,
		RefClockLossIsFatal: cfg.Transmit.RefClockLossIsFatal,
		MaxGPSHoldoverTime:  cfg.Transmit.MaxGPSHoldoverTime,
	}
	transmitter := transmit.New(device, queue, counters, txCfg)
	if cfg.Transmit.StaticDelayUs != 0 {
		delaySamples := cfg.Transmit.StaticDelayUs * int(cfg.Device.SampleRate) / 1_000_000
		transmitter.SetStaticDelay(delaySamples)
	}

	var feedbackServer *feedback.Server
	if cfg.Feedback.Enabled {
		feedbackServer = feedback.New(cfg.Device.SampleRate, device.ReceiveBurst)
		if cfg.Feedback.DumpDir != "" {
			dumper, err := feedback.NewDumper(cfg.Feedback.DumpDir)
			if err != nil {
				log.Fatalf("dabmod: feedback dump: %v", err)
			}
			defer dumper.Close()
			feedbackServer.SetDumper(dumper)
		}
		transmitter.OnFrameSent = feedbackServer.ObserveFrame
	}

	var mqttPublisher *StatusPublisher
	if cfg.MQTT.Enabled {
		mqttPublisher, err = NewStatusPublisher(cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
		if err != nil {
			log.Fatalf("dabmod: mqtt: %v", err)
		}
		defer mqttPublisher.Close()
		transmitter.OnStatus = mqttPublisher.Publish
	}

	remoteReg := remotecontrol.New()
	remotecontrol.BindGainControl(remoteReg, gainCtl)
	remotecontrol.BindPredistorter(remoteReg, predistorter)
	remotecontrol.BindTransmitter(remoteReg, transmitter)
	remotecontrol.BindCounters(remoteReg, counters)

	var mcpSrv *remotecontrol.MCPServer
	if cfg.RemoteControl.MCPListen != "" {
		mcpSrv = remotecontrol.NewMCPServer(remoteReg, "dabmod", "1.0.0")
	}

	supervisor := clocksync.New(func() (bool, error) {
		return device.Sensor("gps_timelock")
	}, cfg.Transmit.MaxGPSHoldoverTime)
	supervisor.OnFatal = func(err error) {
		log.Printf("dabmod: %v", err)
		cancel()
	}

	src, err := openSource(cfg)
	if err != nil {
		log.Fatalf("dabmod: %v", err)
	}
	defer src.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("dabmod: shutting down")
		cancel()
	}()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("dabmod: metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			metricsServer.Close()
		}()
	}

	if mcpSrv != nil {
		mux := http.NewServeMux()
		mux.Handle("/mcp", mcpSrv.HTTPHandler())
		mcpListener := &http.Server{Addr: cfg.RemoteControl.MCPListen, Handler: mux}
		go func() {
			if err := mcpListener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("dabmod: mcp server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			mcpListener.Close()
		}()
	}

	if feedbackServer != nil && cfg.Feedback.Listen != "" {
		feedbackLn, err := feedbackServer.Listen(cfg.Feedback.Listen)
		if err != nil {
			log.Fatalf("dabmod: feedback server: %v", err)
		}
		go func() {
			if err := feedbackServer.Serve(feedbackLn); err != nil {
				log.Printf("dabmod: feedback server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			feedbackLn.Close()
		}()
	}

	go func() {
		if err := supervisor.Run(ctx); err != nil {
			log.Printf("dabmod: %v", err)
			cancel()
		}
	}()

	go transmitter.RunEvents(ctx)

	go runPipeline(ctx, src, gainCtl, predistorter, queue)

	if err := transmitter.Align(ctx); err != nil {
		log.Fatalf("dabmod: time alignment: %v", err)
	}

	if err := transmitter.Run(ctx); err != nil {
		log.Printf("dabmod: transmit loop stopped: %v", err)
	}

	queue.Close()
	if err := device.Close(); err != nil {
		log.Printf("dabmod: device close: %v", err)
	}
}

func openDevice(cfg *Config) (sdr.Device, error) {
	switch cfg.Device.Backend {
	case "fileout":
		return fileout.Create(cfg.Device.FileOutPath)
	default:
		return udpsdr.New(udpsdr.Endpoints{
			DataGroup:   cfg.Device.DataGroup,
			StatusGroup: cfg.Device.StatusGroup,
			Interface:   cfg.Device.Interface,
		}), nil
	}
}

func openSource(cfg *Config) (etisource.Source, error) {
	mode := parseSourceMode(cfg.Source.Mode)
	frameLen := cfg.Source.FrameLen
	if frameLen == 0 {
		frameLen = mode.FrameSamples()
	}
	return etisource.OpenFileSource(cfg.Source.Path, mode, cfg.Source.SampleRate, frameLen)
}

func parseSourceMode(s string) etisource.Mode {
	switch s {
	case "II":
		return etisource.ModeII
	case "III":
		return etisource.ModeIII
	case "IV":
		return etisource.ModeIV
	default:
		return etisource.ModeI
	}
}

// runPipeline drives one frame at a time from src through gain control
// and predistortion and into the FrameQueue, until src is exhausted or
// ctx is cancelled.
func runPipeline(ctx context.Context, src etisource.Source, gainCtl *gain.Control, predistorter *predistort.Predistorter, queue *framequeue.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, _, err := src.NextFrame()
		if err != nil {
			if err != io.EOF {
				log.Printf("dabmod: source error: %v", err)
			}
			return
		}

		gained := make(sample.Buffer, len(frame.Samples))
		if err := gainCtl.Process(gained, frame.Samples); err != nil {
			log.Printf("dabmod: gain control: %v", err)
			continue
		}

		out := predistorter.Process(sample.Frame{
			Samples: gained,
			Stamp:   frame.Stamp,
			FCT:     frame.FCT,
			Refresh: frame.Stamp.Refresh,
		})

		if err := queue.PushWait(out); err != nil {
			log.Printf("dabmod: framequeue: %v", err)
			return
		}
	}
}
