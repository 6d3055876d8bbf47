package recipe

import "errors"

var (
	ErrInvalidRecipe          = errors.New("invalid recipe")
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	ErrInstructionOrder       = errors.New("instruction out of order")
)
