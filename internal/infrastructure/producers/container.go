package producers

import "slimcast/internal/core/ports"

// Container groups sub-producers behind the producer container contract.
// The order given at construction is the order the pump sweeps them in.
type Container struct {
	children []ports.Producer
}

func NewContainer(children ...ports.Producer) *Container {
	return &Container{children: children}
}

func (c *Container) Start() {
	for _, p := range c.children {
		p.Start()
	}
}

func (c *Container) Stop() {
	for _, p := range c.children {
		p.Stop()
	}
}

func (c *Container) Producers() []ports.Producer {
	return c.children
}
