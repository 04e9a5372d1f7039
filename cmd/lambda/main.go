package main

import (
	"context"

	"example/veritas-api/app"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/rs/zerolog/log"
)

var ginLambda *ginadapter.GinLambda

// init runs once per Lambda container (cold start)
func init() {
	// Connections are reused across invocations and never closed explicitly.
	srv, _ := app.MustBootstrap(context.Background())

	router, err := app.NewRouter(srv)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize router")
	}

	// Wrap Gin router with Lambda adapter
	ginLambda = ginadapter.New(router)
}

// Handler is the Lambda entrypoint for API Gateway REST/HTTP API (proxy integration).
// SSE responses are buffered by API Gateway, so clients fall back to the
// non-streaming endpoint or receive the whole stream at once.
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
