package pocketdock

import "io"

// Client creates, finds, and removes managed containers on one engine
// socket.
type Client interface {
	// Ping checks engine liveness.
	Ping() error

	// Create creates and starts a container, returning its handle.
	Create(spec ContainerSpec) (Container, error)

	// Resume looks up a managed container by name, starts it if
	// stopped, and returns a reconstructed handle.
	Resume(name string) (Container, error)

	// List returns every managed container, running or stopped.
	List() ([]ContainerListItem, error)

	// ListProject returns managed containers carrying the given project
	// label.
	ListProject(project string) ([]ContainerListItem, error)

	// Stop stops a managed container by name without removing it, so
	// it can be resumed later.
	Stop(name string) error

	// Destroy removes a managed container by name, whether running or
	// stopped.
	Destroy(name string) error

	// Prune removes all stopped managed containers, optionally filtered
	// by project. Returns the number removed.
	Prune(project string) (int, error)

	// Images lists engine images.
	Images() ([]Image, error)

	// BuildImage builds an image from an in-memory Dockerfile and tags
	// it. Returns the build output log.
	BuildImage(tag string, dockerfile []byte) (string, error)

	// ExportImage streams an image as a tar archive to w.
	ExportImage(name string, w io.Writer) error

	// ImportImage loads an image tar archive from r.
	ImportImage(r io.Reader) error
}
