package main

import (
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autoqa-project/conductor/internal/common"
	"github.com/autoqa-project/conductor/internal/common/app"
	"github.com/autoqa-project/conductor/internal/common/health"
	"github.com/autoqa-project/conductor/internal/conductor"
	"github.com/autoqa-project/conductor/internal/conductor/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.ConductorConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/conductor", userSpecifiedConfig)

	log.Info("Starting...")

	ctx := app.CreateContextWithShutdown()

	healthChecks := health.NewMultiChecker()

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	mux := http.NewServeMux()
	health.SetupHttpMux(mux, healthChecks)
	shutdownHttpServer := common.ServeHttp(config.HttpPort, mux)
	defer shutdownHttpServer()

	if err := conductor.Serve(ctx, &config, healthChecks); err != nil {
		log.Fatalf("conductor exited: %v", err)
	}
}
