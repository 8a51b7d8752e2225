package sample

// Built by TestSample with go tool compile, or by hand:
//
//go:generate go tool compile -p sample -o sample.o sample.go
//go:generate go run github.com/ZenLiuCN/dso/cmd/dsotool goobj -k sample -o sample.goobj sample.o

type argError string

func (e argError) Error() string {
	return string(e)
}

func Add(args ...any) (any, error) {
	var sum int64
	for _, a := range args {
		v, ok := a.(int64)
		if !ok {
			return nil, argError("add: argument is not an int")
		}
		sum += v
	}
	return sum, nil
}

func Name(args ...any) (any, error) {
	return "sample", nil
}
