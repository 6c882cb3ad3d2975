package configs

import (
	_ "github.com/joho/godotenv/autoload"
	"github.com/kelseyhightower/envconfig"
)

type MinioEnvs struct {
	Endpoint  string `envconfig:"endpoint"`
	Port      string `envconfig:"port"`
	AccessKey string `envconfig:"accesskey"`
	SecretKey string `envconfig:"secretkey"`
	Bucket    string `envconfig:"bucket" default:"recordings"`
	SSL       bool   `envconfig:"ssl"`
}

type EnvVariables struct {
	ServerHost       string   `envconfig:"server_host"`
	ServerPort       string   `envconfig:"server_port" default:"8081"`
	SignalingURL     string   `envconfig:"SIGNALING_URL" default:"http://localhost:8080/offer"`
	CameraURL        string   `envconfig:"CAMERA_RTSP_URL"`
	StunServers      []string `envconfig:"STUN_SERVERS" default:"stun:stun.l.google.com:19302"`
	GatheringTimeout int      `envconfig:"GATHERING_TIMEOUT"`
	SignalingTimeout int      `envconfig:"SIGNALING_TIMEOUT" default:"10"`
	AnswererHost     string   `envconfig:"ANSWERER_HOST"`
	AnswererPort     string   `envconfig:"ANSWERER_PORT" default:"8080"`
	LoopbackMime     string   `envconfig:"LOOPBACK_MIME" default:"video/H264"`
}

func MustConfig() *EnvVariables {
	var ev EnvVariables
	err := envconfig.Process("", &ev)
	if err != nil {
		panic(err)
	}
	return &ev
}

func MustConfigMinio() *MinioEnvs {
	var me MinioEnvs
	err := envconfig.Process("minio", &me)
	if err != nil {
		panic(err)
	}
	return &me
}
