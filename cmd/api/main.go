/*
 * Copyright 2025-2026 Fat Solutions
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatlabsxyz/privacy-pools-client/account"
	"github.com/fatlabsxyz/privacy-pools-client/asp"
	"github.com/fatlabsxyz/privacy-pools-client/common"
	"github.com/fatlabsxyz/privacy-pools-client/events"
	"github.com/fatlabsxyz/privacy-pools-client/prover"
)

const shutdownGracePeriod = time.Second * 10

func main() {
	common.Log.Debugf("starting privacy-pools client API")

	chains := common.RequireChainConfig()
	source := events.NewRPCSource(chains)

	reviews := map[string]account.ReviewProvider{}
	for chainID, chain := range chains {
		if chain.ASPBaseURL == "" {
			common.Log.Warningf("no ASP configured for chain %s; review reconciliation disabled", chainID)
			continue
		}
		reviews[chainID] = asp.NewClient(chain.ASPBaseURL, chainID)
	}

	accounts := account.NewAPI(chains, source, reviews)

	r := gin.New()
	r.Use(gin.Recovery())

	accounts.InstallAPI(r)
	prover.InstallAPI(r, accounts)

	r.GET("/status", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    common.ListenAddr,
		Handler: r,
	}

	go func() {
		common.Log.Debugf("privacy-pools client API listening on %s", common.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to serve API; %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	common.Log.Debugf("received signal: %s; shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Warningf("forced shutdown; %s", err.Error())
	}

	common.Log.Debugf("exiting privacy-pools client API")
}
