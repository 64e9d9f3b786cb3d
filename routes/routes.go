package routes

import "github.com/tedsuo/rata"

const (
	Ping = "Ping"

	ListContainers  = "ListContainers"
	CreateContainer = "CreateContainer"
	StartContainer  = "StartContainer"
	StopContainer   = "StopContainer"
	RestartContainer = "RestartContainer"
	RemoveContainer = "RemoveContainer"
	InspectContainer = "InspectContainer"
	ContainerStats  = "ContainerStats"
	ContainerTop    = "ContainerTop"

	ExecCreate  = "ExecCreate"
	ExecStart   = "ExecStart"
	ExecInspect = "ExecInspect"
	ExecResize  = "ExecResize"

	ArchiveGet = "ArchiveGet"
	ArchivePut = "ArchivePut"

	Commit = "Commit"

	ListImages  = "ListImages"
	BuildImage  = "BuildImage"
	ExportImage = "ExportImage"
	ImportImage = "ImportImage"
)

// Routes names every Docker-compatible REST endpoint pocketdock speaks.
// Paths are unversioned for Podman + Docker compatibility.
var Routes = rata.Routes{
	{Path: "/_ping", Method: "GET", Name: Ping},

	{Path: "/containers/json", Method: "GET", Name: ListContainers},
	{Path: "/containers/create", Method: "POST", Name: CreateContainer},
	{Path: "/containers/:id/start", Method: "POST", Name: StartContainer},
	{Path: "/containers/:id/stop", Method: "POST", Name: StopContainer},
	{Path: "/containers/:id/restart", Method: "POST", Name: RestartContainer},
	{Path: "/containers/:id", Method: "DELETE", Name: RemoveContainer},
	{Path: "/containers/:id/json", Method: "GET", Name: InspectContainer},
	{Path: "/containers/:id/stats", Method: "GET", Name: ContainerStats},
	{Path: "/containers/:id/top", Method: "GET", Name: ContainerTop},

	{Path: "/containers/:id/exec", Method: "POST", Name: ExecCreate},
	{Path: "/exec/:id/start", Method: "POST", Name: ExecStart},
	{Path: "/exec/:id/json", Method: "GET", Name: ExecInspect},
	{Path: "/exec/:id/resize", Method: "POST", Name: ExecResize},

	{Path: "/containers/:id/archive", Method: "GET", Name: ArchiveGet},
	{Path: "/containers/:id/archive", Method: "PUT", Name: ArchivePut},

	{Path: "/commit", Method: "POST", Name: Commit},

	{Path: "/images/json", Method: "GET", Name: ListImages},
	{Path: "/build", Method: "POST", Name: BuildImage},
	{Path: "/images/:name/get", Method: "GET", Name: ExportImage},
	{Path: "/images/load", Method: "POST", Name: ImportImage},
}
