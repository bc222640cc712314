// Command lprfgw is a radio-to-network gateway: frames received by the
// LPRF chip are published to an MQTT broker and mirrored into Redis,
// and messages arriving on a downlink topic are transmitted over the
// air. Configuration comes from a JSON5 file.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/flynn/json5"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/iasradio/lprf"
	"github.com/iasradio/lprf/serialbus"
	"github.com/iasradio/lprf/spibus"
)

var log = logrus.New()

type GatewayConfig struct {
	// Radio.
	SPIPort string `json:"spiPort"`
	Serial  string `json:"serial"`
	Baud    int    `json:"baud"`
	Channel uint8  `json:"channel"`
	TxPower int32  `json:"txPower"`

	// Uplink.
	Broker   string `json:"broker"`
	ClientID string `json:"clientId"`
	Topic    string `json:"topic"`
	// DownTopic carries payloads to transmit. Empty disables downlink.
	DownTopic string `json:"downTopic"`

	// RedisAddr mirrors the latest frame per topic into Redis. Empty
	// disables the mirror.
	RedisAddr string `json:"redisAddr"`
	RedisKey  string `json:"redisKey"`
}

func main() {
	cfgPath := flag.String("config", "lprfgw.json5", "Path to the gateway configuration file.")
	verbose := flag.Bool("v", false, "Debug logging.")
	flag.Parse()

	log.Formatter = new(logrus.TextFormatter)
	log.Out = os.Stdout
	if *verbose {
		log.Level = logrus.DebugLevel
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (*GatewayConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &GatewayConfig{
		Baud:     115200,
		Channel:  11,
		TxPower:  1500,
		ClientID: "lprfgw",
		Topic:    "lprf/uplink",
	}
	if err := json5.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("config: broker address required")
	}
	return cfg, nil
}

func openRadio(cfg *GatewayConfig) (*lprf.Device, io.Closer, error) {
	var bus lprf.Bus
	var closer io.Closer
	if cfg.Serial != "" {
		b, err := serialbus.New(serialbus.Config{Name: cfg.Serial, Baud: cfg.Baud})
		if err != nil {
			return nil, nil, err
		}
		bus, closer = b, b
	} else {
		b, err := spibus.New(spibus.Config{Port: cfg.SPIPort})
		if err != nil {
			return nil, nil, err
		}
		bus, closer = b, b
	}
	devCfg := lprf.Config{Channel: cfg.Channel}
	dev := lprf.New(bus, devCfg)
	if err := dev.Init(devCfg); err != nil {
		closer.Close()
		return nil, nil, err
	}
	if err := dev.SetTxPower(cfg.TxPower); err != nil {
		closer.Close()
		return nil, nil, err
	}
	return dev, closer, nil
}

// downlinkHandler turns PUBLISH packets on topic into radio
// transmissions. Packets on other topics are ignored.
func downlinkHandler(topic string, transmit func([]byte) error) func(mqtt.Header, mqtt.VariablesPublish, io.Reader) error {
	return func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
		if topic == "" || string(varPub.TopicName) != topic {
			return nil
		}
		payload, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		log.WithField("len", len(payload)).Debug("downlink frame")
		if err := transmit(payload); err != nil {
			log.WithError(err).Warn("downlink transmit failed")
		}
		return nil
	}
}

func run(cfg *GatewayConfig) error {
	dev, busCloser, err := openRadio(cfg)
	if err != nil {
		return err
	}
	defer busCloser.Close()
	defer dev.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	// Frames are copied out of the driver callback and queued; the
	// callback must not block on the network.
	frames := make(chan []byte, 32)
	dev.RecvFrameHandle(func(p []byte) error {
		cp := append([]byte(nil), p...)
		select {
		case frames <- cp:
		default:
			log.Warn("uplink queue full, frame dropped")
		}
		return nil
	})
	if err := dev.Start(); err != nil {
		return err
	}

	mqttCfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 4096)},
		OnPub:   downlinkHandler(cfg.DownTopic, dev.Transmit),
	}
	pubFlags, _ := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	pubVar := mqtt.VariablesPublish{TopicName: []byte(cfg.Topic)}
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(cfg.ClientID))
	client := mqtt.NewClient(mqttCfg)
	ctx := context.Background()

	// Connection loop: dial the broker, pump frames, reconnect on any
	// failure. Inbound packets (CONNACK, SUBACK, downlink PUBLISH into
	// OnPub) are read by a per-connection goroutine so the uplink loop
	// never starves the downlink.
	for {
		conn, err := net.Dial("tcp", cfg.Broker)
		if err != nil {
			log.WithError(err).Error("broker dial failed")
			time.Sleep(5 * time.Second)
			continue
		}
		log.WithField("broker", cfg.Broker).Info("connecting")
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.StartConnect(conn, &varconn); err != nil {
			log.WithError(err).Error("mqtt connect failed")
			conn.Close()
			time.Sleep(5 * time.Second)
			continue
		}
		rxDone := make(chan struct{})
		go func() {
			defer close(rxDone)
			for {
				if err := client.HandleNext(); err != nil {
					log.WithError(err).Debug("mqtt read loop ended")
					return
				}
			}
		}()
		for retries := 50; retries > 0 && !client.IsConnected(); retries-- {
			time.Sleep(100 * time.Millisecond)
		}
		if !client.IsConnected() {
			log.WithField("reason", client.Err()).Error("mqtt no connack")
			conn.Close()
			<-rxDone
			continue
		}
		log.Info("connected")

		if cfg.DownTopic != "" {
			vsub := mqtt.VariablesSubscribe{
				PacketIdentifier: 1,
				TopicFilters: []mqtt.SubscribeRequest{
					{TopicFilter: []byte(cfg.DownTopic), QoS: mqtt.QoS0},
				},
			}
			if err := client.StartSubscribe(vsub); err != nil {
				log.WithError(err).Error("downlink subscribe failed")
				conn.Close()
				<-rxDone
				continue
			}
			log.WithField("topic", cfg.DownTopic).Info("downlink subscribed")
		}

	uplink:
		for client.IsConnected() {
			var frame []byte
			select {
			case frame = <-frames:
			case <-rxDone:
				break uplink
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			pubVar.PacketIdentifier++
			if err := client.PublishPayload(pubFlags, pubVar, frame); err != nil {
				log.WithError(err).Error("publish failed")
				break
			}
			log.WithField("len", len(frame)).Debug("published frame")
			if rdb != nil {
				key := cfg.RedisKey
				if key == "" {
					key = cfg.Topic
				}
				if err := rdb.Set(ctx, key, hex.EncodeToString(frame), 0).Err(); err != nil {
					log.WithError(err).Warn("redis mirror failed")
				}
			}
		}
		log.WithField("reason", client.Err()).Error("disconnected")
		conn.Close()
		<-rxDone
	}
}
