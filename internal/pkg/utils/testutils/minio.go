package testutils

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MinioAccessKey and MinioSecretKey are the static credentials the test
// container is started with.
const (
	MinioAccessKey = "webship-test"
	MinioSecretKey = "webship-test-secret"
)

// LaunchMinio sets up a testcontainer based on the `minio` image and returns
// the endpoint URL of its S3 API.
func LaunchMinio(ctx context.Context) string {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     MinioAccessKey,
			"MINIO_ROOT_PASSWORD": MinioSecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		panic(err)
	}

	mappedPort, err := container.MappedPort(ctx, "9000")
	if err != nil {
		panic(err)
	}
	hostIP, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("http://%s:%s", hostIP, mappedPort.Port())
}
