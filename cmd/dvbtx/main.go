package main

import (
	dvbrx "github.com/doismellburning/dvbrx/src"
)

func main() {
	dvbrx.DvbtxMain()
}
