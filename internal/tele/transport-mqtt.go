package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/sensord/helpers"
	"github.com/temoto/sensord/log2"
)

// Topics:
// sensord%d/w/1s - state, single byte, retained
// sensord%d/w/1t - telemetry, JSON envelope
type transportMqtt struct {
	log    *log2.Log
	m      mqtt.Client
	mopt   *mqtt.ClientOptions
	stopCh chan struct{}

	topicPrefix    string
	topicState     string
	topicTelemetry string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig Config, willPayload []byte) error {
	self.log = log
	self.stopCh = make(chan struct{})
	mqttLog := self.log.Clone(log2.LDebug)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if teleConfig.MqttLogDebug {
		mqtt.DEBUG = mqttLog
	}

	mqttClientId := fmt.Sprintf("sensord%d", teleConfig.DeviceId)
	credFun := func() (string, string) {
		return mqttClientId, teleConfig.MqttPassword
	}
	self.topicPrefix = mqttClientId
	self.topicState = fmt.Sprintf("%s/w/1s", self.topicPrefix)
	self.topicTelemetry = fmt.Sprintf("%s/w/1t", self.topicPrefix)

	networkTimeout := helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, defaultNetworkTimeout)
	if networkTimeout < 1*time.Second {
		networkTimeout = 1 * time.Second
	}
	connectTimeout := 3 * networkTimeout
	keepaliveTimeout := helpers.IntSecondDefault(teleConfig.KeepaliveSec, networkTimeout/2)

	defaultHandler := func(_ mqtt.Client, msg mqtt.Message) {
		self.log.Errorf("tele unexpected message topic=%s payload=%x", msg.Topic(), msg.Payload())
	}

	tlsconf := new(tls.Config)
	if teleConfig.TlsCaFile != "" {
		tlsconf.RootCAs = x509.NewCertPool()
		cabytes, err := ioutil.ReadFile(teleConfig.TlsCaFile)
		if err != nil {
			return errors.Annotatef(err, "tls_ca_file=%s", teleConfig.TlsCaFile)
		}
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return errors.Errorf("tls_ca_file=%s no certificates found", teleConfig.TlsCaFile)
		}
	}
	if teleConfig.TlsPsk != "" {
		copy(tlsconf.SessionTicketKey[:], helpers.MustHex(teleConfig.TlsPsk))
	}

	self.mopt = mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicState, willPayload, 1, true).
		SetCleanSession(false).
		SetClientID(mqttClientId).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetDefaultPublishHandler(defaultHandler).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetMessageChannelDepth(1).
		SetOrderMatters(false).
		SetPingTimeout(networkTimeout).
		SetTLSConfig(tlsconf).
		SetWriteTimeout(networkTimeout)
	self.m = mqtt.NewClient(self.mopt)

	// Connect in background, Init must not depend on broker availability.
	go self.online()
	return nil
}

func (self *transportMqtt) Close() {
	close(self.stopCh)
	self.m.Disconnect(uint(self.mopt.WriteTimeout / time.Millisecond))
}

func (self *transportMqtt) SendState(payload []byte) bool {
	self.log.Infof("tele sendstate payload=%x", payload)
	t := self.m.Publish(self.topicState, 1, true, payload)
	return self.tokenWait(t, self.mopt.WriteTimeout, "publish state") == nil
}

func (self *transportMqtt) SendTelemetry(payload []byte) bool {
	t := self.m.Publish(self.topicTelemetry, 1, true, payload)
	return self.tokenWait(t, self.mopt.WriteTimeout, "publish telemetry") == nil
}

// Paho auto-reconnect only kicks in after the first successful connect,
// so the initial attempt is retried here until Close.
func (self *transportMqtt) online() {
	for self.isRunning() {
		self.log.Debugf("tele connect broker=%s", self.mopt.Servers)
		t := self.m.Connect()
		if self.tokenWait(t, self.mopt.ConnectTimeout, "connect") == nil {
			self.log.Debugf("tele connected")
			return
		}
		select {
		case <-self.stopCh:
			return
		case <-time.After(1 * time.Second):
		}
	}
}

func (self *transportMqtt) isRunning() bool {
	select {
	case <-self.stopCh:
		return false
	default:
		return true
	}
}

func (self *transportMqtt) tokenWait(t mqtt.Token, timeout time.Duration, tag string) error {
	if !t.WaitTimeout(timeout) {
		err := errors.Timeoutf("tele %s", tag)
		self.log.Errorf("%s", errors.ErrorStack(err))
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotatef(err, "tele %s", tag)
		self.log.Errorf("%s", errors.ErrorStack(err))
		return err
	}
	return nil
}
