// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/autotransform/services/transform/filestore"
	"github.com/AleutianAI/autotransform/services/transform/gitclient"
	"github.com/AleutianAI/autotransform/services/transform/handlers"
	"github.com/AleutianAI/autotransform/services/transform/processor"
	"github.com/AleutianAI/autotransform/services/transform/storage"
)

func SetupRoutes(router *gin.Engine, store storage.Store, files *filestore.Client, gitFactory gitclient.Factory, p *processor.Processor) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		configs := v1.Group("/config")
		{
			configs.POST("", handlers.UpsertConfig(store, gitFactory))
			configs.GET("", handlers.ListConfigs(store))
			configs.GET("/:configId", handlers.GetConfig(store, p))
		}
		process := v1.Group("/process")
		{
			process.POST("", handlers.StartProcessing(p))
			process.DELETE("/:configId/:runId", handlers.StopProcessing(p))
			process.GET("/:configId/:runId/status", handlers.StreamStatus(p, store, files))
		}
		v1.GET("/data/:configId/:runId/:kind", handlers.ExportData(files))
	}
}
